package driver

// Driver is the unified interface for PLC communications.
// It is strictly read-only: there are no write or force operations, since
// the gateway exists for monitoring and forensic acquisition.
type Driver interface {
	// Connection management
	Connect() error
	Close() error
	IsConnected() bool

	// Identification
	Family() string
	ConnectionMode() string
	GetDeviceInfo() (*DeviceInfo, error)

	// Read operations
	Read(requests []TagRequest) ([]*TagValue, error)

	// Maintenance
	Keepalive() error
	IsConnectionError(err error) bool
}
