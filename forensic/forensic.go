// Package forensic acquires full memory snapshots from a PLC for
// offline analysis. A snapshot sweeps configured memory regions in
// chunks, records raw bytes and decoded values per region, collects the
// controller diagnostics, and seals everything under a SHA-256 digest
// so a dump can be proven unmodified after capture.
package forensic

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"srtplink/logging"
	"srtplink/srtp"
)

// Chunk sizes per access mode, pinned to the largest single request the
// protocol accepts.
const (
	ChunkWords = srtp.MaxWords
	ChunkBytes = srtp.MaxBytes
	ChunkBits  = srtp.MaxBits
)

func debugLog(format string, args ...interface{}) {
	logging.DebugLog("forensic", format, args...)
}

// MemoryReader is the slice of the session client a sweep needs.
// *srtp.Client satisfies it.
type MemoryReader interface {
	ReadRegisters(offset, count int) ([]int16, error)
	ReadAnalogInputs(offset, count int) ([]int16, error)
	ReadAnalogOutputs(offset, count int) ([]int16, error)
	ReadBits(region srtp.Region, offset, count int) ([]bool, error)
	ReadBytes(region srtp.Region, offset, count int) ([]byte, error)
	Status() (*srtp.Diagnostic, error)
	ControllerInfo() (*srtp.Diagnostic, error)
	ProgramNames() (*srtp.Diagnostic, error)
	DateTime() (*srtp.Diagnostic, error)
	FaultTable() (*srtp.Diagnostic, error)
}

// RegionSpec describes one memory range to sweep.
type RegionSpec struct {
	Region srtp.Region
	Mode   srtp.AccessMode
	Offset int
	Count  int
}

// String renders the region spec in the form accepted by ParseRegionSpec.
func (s RegionSpec) String() string {
	return fmt.Sprintf("%s:%d:%d", s.Region, s.Offset, s.Count)
}

// ParseRegionSpec parses a "REGION:offset:count" string such as
// "%R:0:100" or "I:0:64". Word regions sweep in word mode, discrete
// regions in bit mode.
func ParseRegionSpec(s string) (RegionSpec, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return RegionSpec{}, fmt.Errorf("region spec %q: want REGION:offset:count", s)
	}

	region, ok := srtp.RegionByName(parts[0])
	if !ok {
		return RegionSpec{}, fmt.Errorf("region spec %q: unknown region %q", s, parts[0])
	}

	offset, err := strconv.Atoi(parts[1])
	if err != nil || offset < 0 {
		return RegionSpec{}, fmt.Errorf("region spec %q: bad offset %q", s, parts[1])
	}

	count, err := strconv.Atoi(parts[2])
	if err != nil || count < 1 {
		return RegionSpec{}, fmt.Errorf("region spec %q: bad count %q", s, parts[2])
	}

	mode := srtp.ModeBit
	for _, r := range srtp.WordRegions() {
		if r == region {
			mode = srtp.ModeWord
		}
	}

	return RegionSpec{Region: region, Mode: mode, Offset: offset, Count: count}, nil
}

// DefaultRegions returns the standard sweep: the first 100 registers,
// 10 analog points each way, and 64 bits of each discrete I/O region.
func DefaultRegions() []RegionSpec {
	return []RegionSpec{
		{Region: srtp.RegionR, Mode: srtp.ModeWord, Offset: 0, Count: 100},
		{Region: srtp.RegionAI, Mode: srtp.ModeWord, Offset: 0, Count: 10},
		{Region: srtp.RegionAQ, Mode: srtp.ModeWord, Offset: 0, Count: 10},
		{Region: srtp.RegionI, Mode: srtp.ModeBit, Offset: 0, Count: 64},
		{Region: srtp.RegionQ, Mode: srtp.ModeBit, Offset: 0, Count: 64},
		{Region: srtp.RegionM, Mode: srtp.ModeBit, Offset: 0, Count: 64},
	}
}

// RegionDump holds one swept region of a snapshot.
type RegionDump struct {
	Region   string      `json:"region"`
	Mode     string      `json:"mode"`
	Offset   int         `json:"offset"`
	Count    int         `json:"count"`
	Values   interface{} `json:"values,omitempty"` // []int16, []bool or []uint8 depending on mode
	Raw      string      `json:"raw,omitempty"`    // Hex of the wire bytes
	Elapsed  string      `json:"elapsed"`
	Error    string      `json:"error,omitempty"`
	rawBytes []byte
}

// DiagnosticDump holds one diagnostic service result.
type DiagnosticDump struct {
	Payload string `json:"payload,omitempty"` // Hex
	Status  string `json:"status,omitempty"`  // Piggyback status, hex
	Error   string `json:"error,omitempty"`
}

// Metadata identifies the source and integrity of a snapshot.
type Metadata struct {
	PLC       string    `json:"plc"`
	Host      string    `json:"host"`
	Slot      int       `json:"slot"`
	Timestamp time.Time `json:"timestamp"`
	Elapsed   string    `json:"elapsed"`
	Digest    string    `json:"digest"` // SHA-256 over all region wire bytes, in sweep order
}

// Snapshot is a complete forensic acquisition.
type Snapshot struct {
	Metadata    Metadata                  `json:"metadata"`
	Diagnostics map[string]DiagnosticDump `json:"diagnostics"`
	Regions     []RegionDump              `json:"regions"`
}

// Dumper sweeps memory regions through an established session.
type Dumper struct {
	reader  MemoryReader
	regions []RegionSpec
}

// NewDumper creates a dumper over the given session. With no regions
// the default sweep is used.
func NewDumper(reader MemoryReader, regions ...RegionSpec) *Dumper {
	if len(regions) == 0 {
		regions = DefaultRegions()
	}
	return &Dumper{reader: reader, regions: regions}
}

// Acquire sweeps every configured region and collects diagnostics.
// Per-region read failures are recorded in the snapshot and the sweep
// continues; only a nil reader is fatal.
func (d *Dumper) Acquire(plcName, host string, slot int) (*Snapshot, error) {
	if d.reader == nil {
		return nil, fmt.Errorf("acquire: no session")
	}

	start := time.Now()
	snap := &Snapshot{
		Metadata: Metadata{
			PLC:       plcName,
			Host:      host,
			Slot:      slot,
			Timestamp: start.UTC(),
		},
		Diagnostics: d.collectDiagnostics(),
		Regions:     make([]RegionDump, 0, len(d.regions)),
	}

	digest := sha256.New()
	for _, spec := range d.regions {
		dump := d.sweepRegion(spec)
		digest.Write(dump.rawBytes)
		snap.Regions = append(snap.Regions, dump)
	}

	snap.Metadata.Elapsed = time.Since(start).Round(time.Millisecond).String()
	snap.Metadata.Digest = hex.EncodeToString(digest.Sum(nil))

	debugLog("ACQUIRE %s: %d regions in %s, digest %s",
		plcName, len(snap.Regions), snap.Metadata.Elapsed, snap.Metadata.Digest[:16])
	return snap, nil
}

// sweepRegion reads one region in chunks and packs the results.
func (d *Dumper) sweepRegion(spec RegionSpec) RegionDump {
	start := time.Now()
	dump := RegionDump{
		Region: spec.Region.String(),
		Mode:   spec.Mode.String(),
		Offset: spec.Offset,
		Count:  spec.Count,
	}

	var err error
	switch spec.Mode {
	case srtp.ModeWord:
		err = d.sweepWords(spec, &dump)
	case srtp.ModeByte:
		err = d.sweepBytes(spec, &dump)
	case srtp.ModeBit:
		err = d.sweepBits(spec, &dump)
	default:
		err = fmt.Errorf("unsupported access mode %v", spec.Mode)
	}

	dump.Elapsed = time.Since(start).Round(time.Millisecond).String()
	if err != nil {
		dump.Error = err.Error()
		debugLog("SWEEP %s: FAILED at offset %d: %v", spec.Region, spec.Offset, err)
		return dump
	}

	dump.Raw = hex.EncodeToString(dump.rawBytes)
	debugLog("SWEEP %s: %d %s elements in %s", spec.Region, spec.Count, dump.Mode, dump.Elapsed)
	return dump
}

func (d *Dumper) sweepWords(spec RegionSpec, dump *RegionDump) error {
	read := d.wordReader(spec.Region)
	if read == nil {
		return fmt.Errorf("region %s does not support word access", spec.Region)
	}

	values := make([]int16, 0, spec.Count)
	for offset := 0; offset < spec.Count; offset += ChunkWords {
		n := spec.Count - offset
		if n > ChunkWords {
			n = ChunkWords
		}
		chunk, err := read(spec.Offset+offset, n)
		if err != nil {
			return err
		}
		values = append(values, chunk...)
	}

	raw := make([]byte, 0, len(values)*2)
	for _, v := range values {
		raw = append(raw, byte(v), byte(uint16(v)>>8))
	}

	dump.Values = values
	dump.rawBytes = raw
	return nil
}

func (d *Dumper) wordReader(region srtp.Region) func(offset, count int) ([]int16, error) {
	switch region {
	case srtp.RegionR:
		return d.reader.ReadRegisters
	case srtp.RegionAI:
		return d.reader.ReadAnalogInputs
	case srtp.RegionAQ:
		return d.reader.ReadAnalogOutputs
	default:
		return nil
	}
}

func (d *Dumper) sweepBytes(spec RegionSpec, dump *RegionDump) error {
	values := make([]byte, 0, spec.Count)
	for offset := 0; offset < spec.Count; offset += ChunkBytes {
		n := spec.Count - offset
		if n > ChunkBytes {
			n = ChunkBytes
		}
		chunk, err := d.reader.ReadBytes(spec.Region, spec.Offset+offset, n)
		if err != nil {
			return err
		}
		values = append(values, chunk...)
	}

	dump.Values = values
	dump.rawBytes = values
	return nil
}

func (d *Dumper) sweepBits(spec RegionSpec, dump *RegionDump) error {
	values := make([]bool, 0, spec.Count)
	for offset := 0; offset < spec.Count; offset += ChunkBits {
		n := spec.Count - offset
		if n > ChunkBits {
			n = ChunkBits
		}
		chunk, err := d.reader.ReadBits(spec.Region, spec.Offset+offset, n)
		if err != nil {
			return err
		}
		values = append(values, chunk...)
	}

	// Pack LSB-first, matching the wire layout
	raw := make([]byte, (len(values)+7)/8)
	for i, b := range values {
		if b {
			raw[i/8] |= 1 << (i % 8)
		}
	}

	dump.Values = values
	dump.rawBytes = raw
	return nil
}

// collectDiagnostics gathers each diagnostic service best-effort. A
// failed service records its error and does not abort the snapshot.
func (d *Dumper) collectDiagnostics() map[string]DiagnosticDump {
	services := []struct {
		name string
		call func() (*srtp.Diagnostic, error)
	}{
		{"status", d.reader.Status},
		{"controller_info", d.reader.ControllerInfo},
		{"program_names", d.reader.ProgramNames},
		{"datetime", d.reader.DateTime},
		{"fault_table", d.reader.FaultTable},
	}

	out := make(map[string]DiagnosticDump, len(services))
	for _, svc := range services {
		diag, err := svc.call()
		if err != nil {
			out[svc.name] = DiagnosticDump{Error: err.Error()}
			continue
		}
		out[svc.name] = DiagnosticDump{
			Payload: hex.EncodeToString(diag.Payload),
			Status:  hex.EncodeToString(diag.Status[:]),
		}
	}
	return out
}

// JSON serializes the snapshot with indentation.
func (s *Snapshot) JSON() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// WriteJSON writes the snapshot to w.
func (s *Snapshot) WriteJSON(w io.Writer) error {
	data, err := s.JSON()
	if err != nil {
		return fmt.Errorf("failed to serialize snapshot: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

// SaveFile writes the snapshot to path. An empty path derives a name
// from the PLC host and capture time.
func (s *Snapshot) SaveFile(path string) (string, error) {
	if path == "" {
		path = fmt.Sprintf("plc_dump_%s_%s.json",
			s.Metadata.Host, s.Metadata.Timestamp.Format("20060102_150405"))
	}

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create snapshot file: %w", err)
	}
	defer f.Close()

	if err := s.WriteJSON(f); err != nil {
		return "", err
	}
	return path, nil
}
