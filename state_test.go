package lookahead

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLookahead(t *testing.T) (*Lookahead, *Parameter, *Parameter) {
	w := NewParameter("linear.weight", []float32{1, 2, 3, 4}, 2, 2)
	b := NewParameter("linear.bias", []float32{0.5, -0.5})
	inner := &decrementer{groups: []*ParamGroup{{Params: []*Parameter{w}}, {Params: []*Parameter{b}}}, by: 0.5}
	opt, err := New(inner, WithK(3), WithAlpha(0.5))
	require.NoError(t, err)
	return opt, w, b
}

func TestStateRoundTrip(t *testing.T) {
	opt, w, b := newTestLookahead(t)
	for i := 0; i < 4; i++ {
		require.NoError(t, opt.Step())
	}
	c := opt.Checkpoint()
	assert.Equal(t, 4, c.State.Step)

	var buf bytes.Buffer
	require.NoError(t, WriteCheckpoint(&buf, c))
	got, err := ReadCheckpoint(&buf)
	require.NoError(t, err)
	assert.Equal(t, c, got)

	fresh, fw, fb := newTestLookahead(t)
	require.NoError(t, fresh.Restore(got))
	assert.Equal(t, 4, fresh.StepCount())
	assert.Equal(t, w.Value.Data(), fw.Value.Data())
	assert.Equal(t, b.Value.Data(), fb.Value.Data())
	assert.Equal(t, opt.State(), fresh.State())

	// both continue identically, syncing on step 6
	for i := 0; i < 2; i++ {
		require.NoError(t, opt.Step())
		require.NoError(t, fresh.Step())
	}
	assert.Equal(t, opt.State(), fresh.State())
	assert.Equal(t, w.Value.Data(), fw.Value.Data())
	slow, _ := fresh.SlowWeights("linear.weight")
	assert.Equal(t, slow, fw.Value.Data())
}

func TestStateIsDeepCopy(t *testing.T) {
	opt, _, _ := newTestLookahead(t)
	s := opt.State()
	s.Slow["linear.bias"][0] = 100
	slow, _ := opt.SlowWeights("linear.bias")
	assert.Equal(t, float32(0.5), slow[0])
}

func TestLoadStateRejectsMismatch(t *testing.T) {
	tests := []struct {
		name  string
		state State
	}{
		{
			name:  "missing entry",
			state: State{Step: 1, Slow: map[string][]float32{"linear.weight": {1, 2, 3, 4}}},
		},
		{
			name: "wrong length",
			state: State{Step: 1, Slow: map[string][]float32{
				"linear.weight": {1, 2, 3},
				"linear.bias":   {1, 2},
			}},
		},
		{
			name: "extra entry",
			state: State{Step: 1, Slow: map[string][]float32{
				"linear.weight": {1, 2, 3, 4},
				"linear.bias":   {1, 2},
				"classifier":    {1},
			}},
		},
		{
			name: "negative step",
			state: State{Step: -1, Slow: map[string][]float32{
				"linear.weight": {1, 2, 3, 4},
				"linear.bias":   {1, 2},
			}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opt, _, _ := newTestLookahead(t)
			before := opt.State()
			assert.Error(t, opt.LoadState(tt.state))
			assert.Equal(t, before, opt.State())
		})
	}
}

func TestRestoreRejectsMissingParams(t *testing.T) {
	opt, w, _ := newTestLookahead(t)
	c := opt.Checkpoint()
	delete(c.Params, "linear.bias")
	c.Params["linear.weight"] = []float32{9, 9, 9, 9}
	assert.Error(t, opt.Restore(c))
	assert.Equal(t, []float32{1, 2, 3, 4}, w.Value.Data())
}

func TestReadCheckpointBadFile(t *testing.T) {
	header := make([]int32, 256)
	header[0] = 1234
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, header))
	_, err := ReadCheckpoint(&buf)
	assert.True(t, errors.Is(err, ErrBadStateFile))

	_, err = ReadCheckpoint(bytes.NewReader([]byte{1, 2, 3}))
	assert.Error(t, err)

	header[0], header[1], header[3] = stateMagic, stateVersion, 1
	buf.Reset()
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, header))
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, []int32{-4, 1}))
	_, err = ReadCheckpoint(&buf)
	assert.True(t, errors.Is(err, ErrBadStateFile))
}

func TestWriteCheckpointRejectsUnreadableEntries(t *testing.T) {
	valid := map[string][]float32{"linear.weight": {1}}
	tests := []struct {
		name string
		c    Checkpoint
	}{
		{
			name: "name too long",
			c: Checkpoint{
				State:  State{Slow: map[string][]float32{strings.Repeat("w", maxNameLen+1): {1}}},
				Params: valid,
			},
		},
		{
			name: "empty name",
			c: Checkpoint{
				State:  State{Slow: valid},
				Params: map[string][]float32{"": {1}},
			},
		},
		{
			name: "negative step",
			c:    Checkpoint{State: State{Step: -1, Slow: valid}, Params: valid},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			err := WriteCheckpoint(&buf, tt.c)
			assert.True(t, errors.Is(err, ErrBadStateFile))
			assert.Zero(t, buf.Len())
		})
	}

	c := Checkpoint{State: State{Slow: map[string][]float32{strings.Repeat("w", maxNameLen): {1}}}, Params: valid}
	var buf bytes.Buffer
	require.NoError(t, WriteCheckpoint(&buf, c))
	got, err := ReadCheckpoint(&buf)
	require.NoError(t, err)
	assert.Equal(t, c, got)
}

func TestSaveCheckpointLeavesNoPartialFiles(t *testing.T) {
	dir := t.TempDir()
	opt, _, _ := newTestLookahead(t)
	require.NoError(t, opt.Step())
	path, err := SaveCheckpoint(dir, opt.Checkpoint())
	require.NoError(t, err)

	bad := opt.Checkpoint()
	bad.State.Step = 7
	bad.Params[""] = []float32{1}
	_, err = SaveCheckpoint(dir, bad)
	assert.True(t, errors.Is(err, ErrBadStateFile))

	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, filepath.Base(path), files[0].Name())
	latest, err := LatestCheckpoint(dir)
	require.NoError(t, err)
	assert.Equal(t, path, latest)
}

func TestSaveAndLatestCheckpoint(t *testing.T) {
	dir := t.TempDir()
	_, err := LatestCheckpoint(dir)
	assert.True(t, errors.Is(err, ErrNoCheckpoint))
	_, err = LatestCheckpoint(filepath.Join(dir, "missing"))
	assert.True(t, errors.Is(err, ErrNoCheckpoint))

	opt, _, _ := newTestLookahead(t)
	for step := 1; step <= 12; step++ {
		require.NoError(t, opt.Step())
		if step%5 == 0 || step == 12 {
			path, err := SaveCheckpoint(dir, opt.Checkpoint())
			require.NoError(t, err)
			assert.FileExists(t, path)
		}
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "checkpoint-99.txt"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "checkpoint-100.bin"), 0o755))

	latest, err := LatestCheckpoint(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "checkpoint-12.bin"), latest)

	c, err := LoadCheckpoint(latest)
	require.NoError(t, err)
	assert.Equal(t, opt.Checkpoint(), c)
}
