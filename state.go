package lookahead

import (
	"encoding/binary"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const (
	stateMagic   int32 = 20241017
	stateVersion int32 = 1
)

// limits on entries read from a state file
const (
	maxNameLen  = 1 << 16
	maxEntryLen = 1 << 28
)

// State is the part of a Lookahead optimizer that has to survive a restart.
type State struct {
	Step int
	Slow map[string][]float32
}

// Checkpoint is a Lookahead State together with the fast weights it belongs to.
type Checkpoint struct {
	State  State
	Params map[string][]float32
}

// State returns a deep copy of the step counter and slow weights.
func (l *Lookahead) State() State {
	s := State{Step: l.step, Slow: make(map[string][]float32, len(l.slow))}
	for name, slow := range l.slow {
		s.Slow[name] = append([]float32(nil), slow...)
	}
	return s
}

// LoadState replaces the step counter and slow weights. The state must have exactly one
// entry per managed parameter, of the parameter's length; otherwise nothing is changed.
func (l *Lookahead) LoadState(s State) error {
	if s.Step < 0 {
		return invalidArgument("step", s.Step, "outside allowed range [0, Inf)")
	}
	n := 0
	for _, g := range l.inner.ParamGroups() {
		for _, p := range g.Params {
			slow, ok := s.Slow[p.Name]
			if !ok {
				return errors.Errorf("lookahead: state has no slow weights for %s", p)
			}
			if len(slow) != len(p.Value.data) {
				return errors.Errorf("lookahead: state has %d slow weights for %s, want %d", len(slow), p, len(p.Value.data))
			}
			n++
		}
	}
	if n != len(s.Slow) {
		return errors.Errorf("lookahead: state has %d slow weight entries, optimizer manages %d parameters", len(s.Slow), n)
	}
	l.step = s.Step
	for name, slow := range s.Slow {
		l.slow[name] = append([]float32(nil), slow...)
	}
	return nil
}

// Checkpoint captures the optimizer state and the current parameter values.
func (l *Lookahead) Checkpoint() Checkpoint {
	c := Checkpoint{State: l.State(), Params: map[string][]float32{}}
	for _, g := range l.inner.ParamGroups() {
		for _, p := range g.Params {
			c.Params[p.Name] = append([]float32(nil), p.Value.data...)
		}
	}
	return c
}

// Restore loads c's state and writes its parameter values back into the managed parameters.
func (l *Lookahead) Restore(c Checkpoint) error {
	for _, g := range l.inner.ParamGroups() {
		for _, p := range g.Params {
			values, ok := c.Params[p.Name]
			if !ok {
				return errors.Errorf("lookahead: checkpoint has no values for %s", p)
			}
			if len(values) != len(p.Value.data) {
				return errors.Errorf("lookahead: checkpoint has %d values for %s, want %d", len(values), p, len(p.Value.data))
			}
		}
	}
	if err := l.LoadState(c.State); err != nil {
		return err
	}
	for _, g := range l.inner.ParamGroups() {
		for _, p := range g.Params {
			copy(p.Value.data, c.Params[p.Name])
		}
	}
	return nil
}

// WriteCheckpoint encodes c as a little-endian header of 256 int32s followed by the
// slow weight entries and then the parameter entries, each sorted by name.
func WriteCheckpoint(w io.Writer, c Checkpoint) error {
	if c.State.Step < 0 || c.State.Step > math.MaxInt32 {
		return errors.Wrapf(ErrBadStateFile, "step %d does not fit the header", c.State.Step)
	}
	if err := checkEntries(c.State.Slow); err != nil {
		return errors.Wrap(err, "slow weights")
	}
	if err := checkEntries(c.Params); err != nil {
		return errors.Wrap(err, "parameters")
	}
	header := make([]int32, 256)
	header[0] = stateMagic
	header[1] = stateVersion
	header[2] = int32(c.State.Step)
	header[3] = int32(len(c.State.Slow))
	header[4] = int32(len(c.Params))
	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		return errors.Wrap(err, "error writing state header")
	}
	if err := writeEntries(w, c.State.Slow); err != nil {
		return errors.Wrap(err, "error writing slow weights")
	}
	if err := writeEntries(w, c.Params); err != nil {
		return errors.Wrap(err, "error writing parameters")
	}
	return nil
}

// checkEntries applies the limits readEntries enforces, so a written file can always be read back.
func checkEntries(entries map[string][]float32) error {
	if len(entries) > math.MaxInt32 {
		return errors.Wrapf(ErrBadStateFile, "%d entries", len(entries))
	}
	for name, values := range entries {
		if len(name) == 0 || len(name) > maxNameLen || len(values) > maxEntryLen {
			return errors.Wrapf(ErrBadStateFile, "entry %q: name length %d, value count %d", name, len(name), len(values))
		}
	}
	return nil
}

func writeEntries(w io.Writer, entries map[string][]float32) error {
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		values := entries[name]
		if err := binary.Write(w, binary.LittleEndian, []int32{int32(len(name)), int32(len(values))}); err != nil {
			return err
		}
		if _, err := io.WriteString(w, name); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, values); err != nil {
			return err
		}
	}
	return nil
}

func ReadCheckpoint(r io.Reader) (Checkpoint, error) {
	header := make([]int32, 256)
	if err := binary.Read(r, binary.LittleEndian, header); err != nil {
		return Checkpoint{}, errors.Wrap(err, "error reading state header")
	}
	if header[0] != stateMagic || header[1] != stateVersion {
		return Checkpoint{}, errors.Wrapf(ErrBadStateFile, "magic %d version %d", header[0], header[1])
	}
	if header[2] < 0 || header[3] < 0 || header[4] < 0 {
		return Checkpoint{}, errors.Wrapf(ErrBadStateFile, "negative header field %v", header[2:5])
	}
	slow, err := readEntries(r, int(header[3]))
	if err != nil {
		return Checkpoint{}, errors.Wrap(err, "error reading slow weights")
	}
	params, err := readEntries(r, int(header[4]))
	if err != nil {
		return Checkpoint{}, errors.Wrap(err, "error reading parameters")
	}
	return Checkpoint{
		State:  State{Step: int(header[2]), Slow: slow},
		Params: params,
	}, nil
}

func readEntries(r io.Reader, n int) (map[string][]float32, error) {
	entries := make(map[string][]float32, n)
	for i := 0; i < n; i++ {
		lens := make([]int32, 2)
		if err := binary.Read(r, binary.LittleEndian, lens); err != nil {
			return nil, err
		}
		if lens[0] <= 0 || lens[0] > maxNameLen || lens[1] < 0 || lens[1] > maxEntryLen {
			return nil, errors.Wrapf(ErrBadStateFile, "entry %d: name length %d, value count %d", i, lens[0], lens[1])
		}
		name := make([]byte, lens[0])
		if _, err := io.ReadFull(r, name); err != nil {
			return nil, err
		}
		values := make([]float32, lens[1])
		if err := binary.Read(r, binary.LittleEndian, values); err != nil {
			return nil, err
		}
		entries[string(name)] = values
	}
	return entries, nil
}

const checkpointPrefix = "checkpoint-"

// SaveCheckpoint writes c to dir/checkpoint-<step>.bin and returns the path.
func SaveCheckpoint(dir string, c Checkpoint) (string, error) {
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return "", errors.Wrapf(err, "failed to create checkpoint directory %s", dir)
	}
	path := filepath.Join(dir, checkpointPrefix+strconv.Itoa(c.State.Step)+".bin")
	// a partially written file must never carry a checkpoint name
	f, err := os.CreateTemp(dir, "."+checkpointPrefix+"*.tmp")
	if err != nil {
		return "", errors.Wrapf(err, "failed to create checkpoint in %s", dir)
	}
	tmp := f.Name()
	if err := WriteCheckpoint(f, c); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", errors.Wrapf(err, "failed to close checkpoint %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", errors.Wrapf(err, "failed to move checkpoint to %s", path)
	}
	return path, nil
}

func LoadCheckpoint(path string) (Checkpoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return Checkpoint{}, errors.Wrap(err, "error opening checkpoint")
	}
	defer f.Close()
	return ReadCheckpoint(f)
}

// LatestCheckpoint returns the checkpoint in dir with the highest step.
func LatestCheckpoint(dir string) (string, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", errors.Wrapf(ErrNoCheckpoint, "directory %s", dir)
		}
		return "", errors.Wrapf(err, "failed to list %s", dir)
	}
	latest, latestStep := "", -1
	for _, file := range files {
		step, ok := checkpointStep(file.Name())
		if !ok || file.IsDir() {
			continue
		}
		if step > latestStep {
			latest, latestStep = file.Name(), step
		}
	}
	if latestStep < 0 {
		return "", errors.Wrapf(ErrNoCheckpoint, "directory %s", dir)
	}
	return filepath.Join(dir, latest), nil
}

func checkpointStep(name string) (int, bool) {
	if !strings.HasPrefix(name, checkpointPrefix) || !strings.HasSuffix(name, ".bin") {
		return 0, false
	}
	step, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, checkpointPrefix), ".bin"))
	if err != nil || step < 0 {
		return 0, false
	}
	return step, true
}
