package plcman

import (
	"time"

	"srtplink/driver"
)

// ValueChange represents a tag value that has changed.
type ValueChange struct {
	PLCName string
	TagName string      // Alias from configuration, or the address itself
	Address string      // Raw address (e.g., "%R100")
	Value   interface{} // Decoded Go value
	Bytes   []byte      // Raw bytes as read from the PLC
}

// PollStats tracks polling statistics for debugging.
type PollStats struct {
	LastPollTime time.Time
	TagsPolled   int
	ChangesFound int
	LastError    error
}

// ReadTag reads a single tag from a connected PLC, bypassing the poll cycle.
func (m *Manager) ReadTag(plcName, address string) (*driver.TagValue, error) {
	m.mu.RLock()
	plc, exists := m.plcs[plcName]
	m.mu.RUnlock()

	if !exists {
		return nil, nil
	}

	plc.mu.RLock()
	drv := plc.Driver
	plc.mu.RUnlock()

	if drv == nil {
		return nil, nil
	}

	values, err := drv.Read([]driver.TagRequest{{Name: address}})
	if err != nil {
		return nil, err
	}
	if len(values) > 0 {
		return values[0], nil
	}
	return nil, nil
}

// GetAllCurrentValues returns all currently cached tag values for all PLCs.
// This is used for the initial publish when a broker connects.
func (m *Manager) GetAllCurrentValues() []ValueChange {
	m.mu.RLock()
	plcs := make([]*ManagedPLC, 0, len(m.plcs))
	for _, plc := range m.plcs {
		plcs = append(plcs, plc)
	}
	m.mu.RUnlock()

	var results []ValueChange
	for _, plc := range plcs {
		plc.mu.RLock()
		plcName := plc.Config.Name
		for tagName, val := range plc.Values {
			if val != nil && val.Error == nil {
				results = append(results, ValueChange{
					PLCName: plcName,
					TagName: tagName,
					Address: val.Name,
					Value:   val.Value,
					Bytes:   val.Bytes,
				})
			}
		}
		plc.mu.RUnlock()
	}
	return results
}
