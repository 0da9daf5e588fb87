package plcman

import (
	"fmt"
	"testing"
	"time"

	"srtplink/config"
	"srtplink/driver"
)

// fakeDriver implements driver.Driver against an in-memory value table.
type fakeDriver struct {
	values     map[string]interface{}
	readErr    error
	connErr    bool
	closed     bool
	keepalives int
}

func (f *fakeDriver) Connect() error         { return nil }
func (f *fakeDriver) Close() error           { f.closed = true; return nil }
func (f *fakeDriver) IsConnected() bool      { return !f.closed }
func (f *fakeDriver) Family() string         { return "srtp" }
func (f *fakeDriver) ConnectionMode() string { return "Fake" }

func (f *fakeDriver) GetDeviceInfo() (*driver.DeviceInfo, error) {
	return &driver.DeviceInfo{Family: "srtp", Model: "FAKE"}, nil
}

func (f *fakeDriver) Read(requests []driver.TagRequest) ([]*driver.TagValue, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	out := make([]*driver.TagValue, len(requests))
	for i, req := range requests {
		v, ok := f.values[req.Name]
		if !ok {
			out[i] = &driver.TagValue{Name: req.Name, Family: "srtp", Error: fmt.Errorf("no such tag")}
			continue
		}
		out[i] = &driver.TagValue{Name: req.Name, Family: "srtp", Value: v, Count: 1}
	}
	return out, nil
}

func (f *fakeDriver) Keepalive() error {
	f.keepalives++
	return f.readErr
}

func (f *fakeDriver) IsConnectionError(err error) bool { return f.connErr }

// newConnectedPLC wires a fake driver into a managed PLC for poll tests.
func newConnectedPLC(m *Manager, cfg *config.PLCConfig, drv driver.Driver) *ManagedPLC {
	m.AddPLC(cfg)
	plc := m.GetPLC(cfg.Name)
	plc.mu.Lock()
	plc.Driver = drv
	plc.Status = StatusConnected
	plc.mu.Unlock()
	return plc
}

func TestConnectionStatusString(t *testing.T) {
	tests := []struct {
		status ConnectionStatus
		want   string
	}{
		{StatusDisconnected, "Disconnected"},
		{StatusConnecting, "Connecting"},
		{StatusConnected, "Connected"},
		{StatusError, "Error"},
		{ConnectionStatus(99), "Unknown"},
	}
	for _, tc := range tests {
		if got := tc.status.String(); got != tc.want {
			t.Errorf("status %d: expected %q, got %q", tc.status, tc.want, got)
		}
	}
}

func TestManagerAddRemove(t *testing.T) {
	m := NewManager(time.Second)

	cfg := &config.PLCConfig{Name: "rx3i", Host: "10.0.0.5"}
	if err := m.AddPLC(cfg); err != nil {
		t.Fatalf("AddPLC failed: %v", err)
	}

	// Duplicate add is a no-op
	if err := m.AddPLC(cfg); err != nil {
		t.Fatalf("duplicate AddPLC failed: %v", err)
	}
	if len(m.ListPLCs()) != 1 {
		t.Errorf("expected 1 PLC, got %d", len(m.ListPLCs()))
	}

	plc := m.GetPLC("rx3i")
	if plc == nil {
		t.Fatal("GetPLC returned nil")
	}
	if plc.GetStatus() != StatusDisconnected {
		t.Errorf("new PLC should be disconnected, got %v", plc.GetStatus())
	}

	if err := m.RemovePLC("rx3i"); err != nil {
		t.Fatalf("RemovePLC failed: %v", err)
	}
	if m.GetPLC("rx3i") != nil {
		t.Error("PLC should be gone after removal")
	}
}

func TestPollDetectsChanges(t *testing.T) {
	m := NewManager(time.Second)
	drv := &fakeDriver{values: map[string]interface{}{
		"%R100": int64(10),
		"%I17":  true,
	}}
	cfg := &config.PLCConfig{
		Name: "rx3i", Host: "10.0.0.5", Enabled: true,
		Tags: []config.TagConfig{
			{Name: "motor_speed", Address: "%R100"},
			{Address: "%I17"},
		},
	}
	plc := newConnectedPLC(m, cfg, drv)
	w := newPLCWorker(plc, m, time.Second)

	// First poll: everything is new
	w.poll()

	select {
	case changes := <-m.changeChan:
		if len(changes) != 2 {
			t.Fatalf("expected 2 changes, got %d", len(changes))
		}
		byTag := make(map[string]ValueChange)
		for _, c := range changes {
			byTag[c.TagName] = c
		}
		speed, ok := byTag["motor_speed"]
		if !ok {
			t.Fatal("aliased tag missing from changes")
		}
		if speed.Address != "%R100" || speed.Value != int64(10) || speed.PLCName != "rx3i" {
			t.Errorf("unexpected change: %+v", speed)
		}
		if _, ok := byTag["%I17"]; !ok {
			t.Error("unaliased tag should use its address as name")
		}
	default:
		t.Fatal("expected changes on first poll")
	}

	// Second poll with identical values: no changes
	w.poll()
	select {
	case changes := <-m.changeChan:
		t.Fatalf("expected no changes, got %d", len(changes))
	default:
	}

	// Value moves: exactly one change
	drv.values["%R100"] = int64(20)
	w.poll()
	select {
	case changes := <-m.changeChan:
		if len(changes) != 1 || changes[0].TagName != "motor_speed" || changes[0].Value != int64(20) {
			t.Errorf("unexpected changes: %+v", changes)
		}
	default:
		t.Fatal("expected a change after value moved")
	}
}

func TestPollKeepaliveWithoutTags(t *testing.T) {
	m := NewManager(time.Second)
	drv := &fakeDriver{values: map[string]interface{}{}}
	cfg := &config.PLCConfig{Name: "rx3i", Host: "10.0.0.5", Enabled: true}
	plc := newConnectedPLC(m, cfg, drv)
	w := newPLCWorker(plc, m, time.Second)

	w.poll()
	if drv.keepalives != 1 {
		t.Errorf("expected 1 keepalive, got %d", drv.keepalives)
	}
	if plc.GetStatus() != StatusConnected {
		t.Errorf("healthy keepalive should keep PLC connected, got %v", plc.GetStatus())
	}
}

func TestPollHandlesReadErrors(t *testing.T) {
	t.Run("session error disconnects", func(t *testing.T) {
		m := NewManager(time.Second)
		drv := &fakeDriver{
			values:  map[string]interface{}{},
			readErr: fmt.Errorf("connection reset"),
			connErr: true,
		}
		cfg := &config.PLCConfig{
			Name: "rx3i", Host: "10.0.0.5", Enabled: true,
			Tags: []config.TagConfig{{Address: "%R1"}},
		}
		plc := newConnectedPLC(m, cfg, drv)
		w := newPLCWorker(plc, m, time.Second)

		w.poll()

		if plc.GetStatus() != StatusDisconnected {
			t.Errorf("expected disconnected, got %v", plc.GetStatus())
		}
		if !drv.closed {
			t.Error("driver should be closed on session error")
		}
		if plc.GetError() == nil {
			t.Error("last error should be recorded")
		}
	})

	t.Run("request error keeps session", func(t *testing.T) {
		m := NewManager(time.Second)
		drv := &fakeDriver{
			values:  map[string]interface{}{},
			readErr: fmt.Errorf("invalid memory address"),
			connErr: false,
		}
		cfg := &config.PLCConfig{
			Name: "rx3i", Host: "10.0.0.5", Enabled: true,
			Tags: []config.TagConfig{{Address: "%R1"}},
		}
		plc := newConnectedPLC(m, cfg, drv)
		w := newPLCWorker(plc, m, time.Second)

		w.poll()

		if plc.GetStatus() != StatusError {
			t.Errorf("expected error status, got %v", plc.GetStatus())
		}
		if drv.closed {
			t.Error("driver should stay open on a per-request error")
		}
	})
}

func TestSendChangesDropsOldestWhenFull(t *testing.T) {
	m := NewManager(time.Second)

	// Fill the channel to capacity
	for i := 0; i < cap(m.changeChan); i++ {
		m.sendChanges([]ValueChange{{TagName: fmt.Sprintf("old%d", i)}})
	}

	// One more must not block
	done := make(chan struct{})
	go func() {
		m.sendChanges([]ValueChange{{TagName: "new"}})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sendChanges blocked on a full channel")
	}
}

func TestGetAllCurrentValues(t *testing.T) {
	m := NewManager(time.Second)
	drv := &fakeDriver{values: map[string]interface{}{
		"%R100": int64(10),
		"%R101": int64(20),
	}}
	cfg := &config.PLCConfig{
		Name: "rx3i", Host: "10.0.0.5", Enabled: true,
		Tags: []config.TagConfig{
			{Name: "a", Address: "%R100"},
			{Name: "b", Address: "%R101"},
			{Name: "bad", Address: "%R999"},
		},
	}
	plc := newConnectedPLC(m, cfg, drv)
	w := newPLCWorker(plc, m, time.Second)
	w.poll()

	values := m.GetAllCurrentValues()
	if len(values) != 2 {
		t.Fatalf("expected 2 good values, got %d", len(values))
	}
	for _, v := range values {
		if v.PLCName != "rx3i" {
			t.Errorf("unexpected PLC name: %s", v.PLCName)
		}
		if v.TagName == "bad" {
			t.Error("errored tags should be excluded")
		}
	}
}

func TestLoadFromConfig(t *testing.T) {
	m := NewManager(time.Second)
	cfg := config.DefaultConfig()
	cfg.PLCs = []config.PLCConfig{
		{Name: "one", Host: "10.0.0.1"},
		{Name: "two", Host: "10.0.0.2"},
	}

	m.LoadFromConfig(cfg)
	if len(m.ListPLCs()) != 2 {
		t.Errorf("expected 2 PLCs, got %d", len(m.ListPLCs()))
	}
}
