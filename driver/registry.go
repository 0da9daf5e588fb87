package driver

import (
	"fmt"

	"srtplink/config"
)

// Create creates a Driver for the given PLC configuration.
// The connection is not established until Connect() is called on the
// returned driver.
func Create(cfg *config.PLCConfig) (Driver, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	return NewSRTPAdapter(cfg)
}
