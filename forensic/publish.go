package forensic

import (
	"context"
	"fmt"

	"srtplink/kafka"
)

// PublishKafka ships a snapshot to every connected Kafka cluster with a
// snapshot topic configured. The record key is the PLC name so all
// snapshots of one controller land in the same partition.
func PublishKafka(ctx context.Context, manager *kafka.Manager, snap *Snapshot) error {
	if manager == nil {
		return fmt.Errorf("publish snapshot: no kafka manager")
	}

	payload, err := snap.JSON()
	if err != nil {
		return fmt.Errorf("publish snapshot: %w", err)
	}

	if err := manager.PublishSnapshot(ctx, []byte(snap.Metadata.PLC), payload); err != nil {
		return fmt.Errorf("publish snapshot: %w", err)
	}

	debugLog("PUBLISH %s: snapshot sent to kafka (%d bytes)", snap.Metadata.PLC, len(payload))
	return nil
}
