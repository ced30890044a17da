package cpu

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"
)

var ErrSnapshotMismatch = errors.New("snapshot does not match this program")

// snapshotState is the JSON part of a snapshot archive.
type snapshotState struct {
	Registers  map[string]uint32 `json:"registers"`
	IP         int               `json:"ip"`
	Halted     bool              `json:"halted"`
	Steps      int               `json:"steps"`
	CallStack  []int             `json:"call_stack"`
	MemorySize int               `json:"memory_size"`
	Symbols    map[string]uint32 `json:"symbols"`
}

// Snapshot serialises the machine into a ZIP archive holding cpu_state.json
// and memory.bin. I/O streams are not part of a snapshot.
func (c *CPU) Snapshot() ([]byte, error) {
	buf := new(bytes.Buffer)
	zw := zip.NewWriter(buf)

	state := snapshotState{
		Registers:  make(map[string]uint32, len(RegisterNames)),
		IP:         c.IP,
		Halted:     c.Halted,
		Steps:      c.Steps,
		CallStack:  c.callStack,
		MemorySize: len(c.Memory),
		Symbols:    c.symbols,
	}
	for i, name := range RegisterNames {
		state.Registers[name] = c.Regs[i]
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal cpu_state: %w", err)
	}
	if err := writeZipEntry(zw, "cpu_state.json", data); err != nil {
		return nil, err
	}
	if err := writeZipEntry(zw, "memory.bin", c.Memory); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close zip: %w", err)
	}
	return buf.Bytes(), nil
}

// Restore applies a snapshot taken from a machine that loaded the same
// program with the same memory size. Execution continues where the snapshot
// was taken.
func (c *CPU) Restore(data []byte) error {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("open zip: %w", err)
	}
	files := make(map[string]*zip.File, len(r.File))
	for _, f := range r.File {
		files[f.Name] = f
	}

	raw, err := readZipEntry(files, "cpu_state.json")
	if err != nil {
		return err
	}
	var state snapshotState
	if err := json.Unmarshal(raw, &state); err != nil {
		return fmt.Errorf("unmarshal cpu_state: %w", err)
	}
	if state.MemorySize != len(c.Memory) {
		return fmt.Errorf("%w: memory size %d, machine has %d", ErrSnapshotMismatch, state.MemorySize, len(c.Memory))
	}
	for label, addr := range c.symbols {
		if state.Symbols[label] != addr {
			return fmt.Errorf("%w: symbol %s", ErrSnapshotMismatch, label)
		}
	}
	if state.IP < 0 || state.IP > len(c.prog.Text) {
		return fmt.Errorf("%w: instruction pointer %d", ErrSnapshotMismatch, state.IP)
	}

	mem, err := readZipEntry(files, "memory.bin")
	if err != nil {
		return err
	}
	if len(mem) != len(c.Memory) {
		return fmt.Errorf("%w: memory.bin holds %d bytes", ErrSnapshotMismatch, len(mem))
	}

	copy(c.Memory, mem)
	for i, name := range RegisterNames {
		c.Regs[i] = state.Registers[name]
	}
	c.IP = state.IP
	c.Halted = state.Halted
	c.Steps = state.Steps
	c.callStack = append([]int(nil), state.CallStack...)
	return nil
}

// SaveSnapshot writes a snapshot archive to path.
func (c *CPU) SaveSnapshot(path string) error {
	data, err := c.Snapshot()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (c *CPU) RestoreFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return c.Restore(data)
}

func writeZipEntry(zw *zip.Writer, name string, data []byte) error {
	w, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("create zip entry %q: %w", name, err)
	}
	_, err = w.Write(data)
	return err
}

func readZipEntry(files map[string]*zip.File, name string) ([]byte, error) {
	f, ok := files[name]
	if !ok {
		return nil, fmt.Errorf("zip entry %q not found", name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open zip entry %q: %w", name, err)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
