package driver

import (
	"errors"
	"fmt"
	"strings"

	"srtplink/config"
	"srtplink/srtp"
)

// errNotConnected is returned by operations invoked before Connect or
// after Close. It always warrants a reconnect.
var errNotConnected = errors.New("not connected")

// SRTPAdapter wraps srtp.Client to implement the Driver interface.
type SRTPAdapter struct {
	client *srtp.Client
	config *config.PLCConfig
}

// NewSRTPAdapter creates a new SRTPAdapter from configuration.
// The connection is not established until Connect() is called.
func NewSRTPAdapter(cfg *config.PLCConfig) (*SRTPAdapter, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	return &SRTPAdapter{
		config: cfg,
	}, nil
}

// Connect establishes the session to the PLC.
func (a *SRTPAdapter) Connect() error {
	opts := []srtp.Option{}
	if a.config.Port != 0 {
		opts = append(opts, srtp.WithPort(a.config.Port))
	}
	if a.config.Slot != 0 {
		opts = append(opts, srtp.WithSlot(a.config.Slot))
	}
	if a.config.Timeout != 0 {
		opts = append(opts, srtp.WithTimeout(a.config.Timeout))
	}
	if min := a.minimums(); min != nil {
		opts = append(opts, srtp.WithMinimums(*min))
	}

	client, err := srtp.Connect(a.config.Host, opts...)
	if err != nil {
		return fmt.Errorf("srtp connect: %w", err)
	}

	a.client = client
	return nil
}

// minimums returns transfer length overrides from the config, or nil when
// the defaults should be used.
func (a *SRTPAdapter) minimums() *srtp.Minimums {
	if a.config.MinWords == 0 && a.config.MinBytes == 0 && a.config.MinBits == 0 {
		return nil
	}
	min := srtp.DefaultMinimums()
	if a.config.MinWords != 0 {
		min.Word = a.config.MinWords
	}
	if a.config.MinBytes != 0 {
		min.Byte = a.config.MinBytes
	}
	if a.config.MinBits != 0 {
		min.Bit = a.config.MinBits
	}
	return &min
}

// Close releases the connection.
func (a *SRTPAdapter) Close() error {
	if a.client != nil {
		a.client.Close()
		a.client = nil
	}
	return nil
}

// IsConnected returns true if connected to the PLC.
func (a *SRTPAdapter) IsConnected() bool {
	return a.client != nil && a.client.IsConnected()
}

// Family returns the PLC family.
func (a *SRTPAdapter) Family() string {
	return "srtp"
}

// ConnectionMode returns a description of the connection mode.
func (a *SRTPAdapter) ConnectionMode() string {
	if a.client == nil {
		return "Not connected"
	}
	return a.client.ConnectionMode()
}

// GetDeviceInfo returns information about the connected PLC.
// The controller info payload carries the model string; interpretation of
// the remaining bytes varies by CPU, so only the printable prefix is used.
func (a *SRTPAdapter) GetDeviceInfo() (*DeviceInfo, error) {
	if a.client == nil {
		return nil, errNotConnected
	}

	info, err := a.client.ControllerInfo()
	if err != nil {
		return nil, err
	}

	return &DeviceInfo{
		Family:      "srtp",
		Vendor:      "GE / Emerson",
		Model:       printablePrefix(info.Payload),
		Description: fmt.Sprintf("status % X", info.Status),
	}, nil
}

// printablePrefix extracts the leading printable ASCII run from raw payload
// bytes, trimmed of surrounding whitespace.
func printablePrefix(data []byte) string {
	end := 0
	for end < len(data) && data[end] >= 32 && data[end] < 127 {
		end++
	}
	return strings.TrimSpace(string(data[:end]))
}

// Read reads tag values from the PLC.
func (a *SRTPAdapter) Read(requests []TagRequest) ([]*TagValue, error) {
	if a.client == nil {
		return nil, errNotConnected
	}

	addresses := make([]string, len(requests))
	for i, req := range requests {
		addresses[i] = req.Name
	}

	values, err := a.client.Read(addresses...)
	if err != nil {
		return nil, err
	}

	result := make([]*TagValue, len(values))
	for i, v := range values {
		if v == nil {
			result[i] = &TagValue{
				Name:   requests[i].Name,
				Family: "srtp",
				Error:  fmt.Errorf("nil response"),
			}
			continue
		}

		result[i] = &TagValue{
			Name:   v.Name,
			Family: "srtp",
			Value:  v.GoValue(),
			Bytes:  v.Bytes,
			Count:  v.Count,
			Error:  v.Error,
		}
	}

	return result, nil
}

// Keepalive issues a short status request to keep the session fresh and
// verify the PLC is still responding.
func (a *SRTPAdapter) Keepalive() error {
	if a.client == nil {
		return errNotConnected
	}
	_, err := a.client.Status()
	return err
}

// IsConnectionError returns true if the error indicates a connection problem.
func (a *SRTPAdapter) IsConnectionError(err error) bool {
	if errors.Is(err, errNotConnected) {
		return true
	}
	if srtp.IsSessionError(err) {
		return true
	}
	return IsLikelyConnectionError(err)
}

// Client returns the underlying srtp.Client for advanced operations such as
// diagnostic service requests.
func (a *SRTPAdapter) Client() *srtp.Client {
	return a.client
}
