package lookahead

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/gorgonia"
)

func TestSolverOptimizerUpdatesInPlace(t *testing.T) {
	for name, factory := range map[string]SolverFactory{
		"adam":    AdamSolver,
		"vanilla": VanillaSolver,
	} {
		t.Run(name, func(t *testing.T) {
			memory := []float32{1, -1, 2, -2}
			w := NewParameter("linear.weight", memory, 2, 2)
			w.SetGrad([]float32{1, -1, 1, -1})
			opt, err := NewSolverOptimizer([]*ParamGroup{{Params: []*Parameter{w}, LearningRate: 0.1, Eps: 1e-8}}, factory)
			require.NoError(t, err)
			require.NoError(t, opt.Step())
			assert.Less(t, memory[0], float32(1))
			assert.Greater(t, memory[1], float32(-1))
			assert.Less(t, memory[2], float32(2))
			assert.Greater(t, memory[3], float32(-2))
		})
	}
}

func TestSolverOptimizerLeavesGradientsAlone(t *testing.T) {
	for name, factory := range map[string]SolverFactory{
		"adam":    AdamSolver,
		"vanilla": VanillaSolver,
	} {
		t.Run(name, func(t *testing.T) {
			w := NewParameter("linear.weight", []float32{1, -1})
			w.SetGrad([]float32{0.5, -0.25})
			opt, err := NewSolverOptimizer([]*ParamGroup{{Params: []*Parameter{w}, LearningRate: 0.1, WeightDecay: 0.01, Eps: 1e-8}}, factory)
			require.NoError(t, err)
			require.NoError(t, opt.Step())
			require.NoError(t, opt.Step())
			assert.Equal(t, []float32{0.5, -0.25}, w.Grad.Data())
		})
	}
}

func TestSolverOptimizerRequiresGradients(t *testing.T) {
	a := NewParameter("a", []float32{1})
	b := NewParameter("b", []float32{1})
	a.SetGrad([]float32{1})
	opt, err := NewSolverOptimizer([]*ParamGroup{{Params: []*Parameter{a, b}, LearningRate: 0.1, Eps: 1e-8}}, nil)
	require.NoError(t, err)
	err = opt.Step()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "b[1]")
	assert.Equal(t, float32(1), a.Value.Data()[0])
}

func TestSolverOptimizerUnderLookahead(t *testing.T) {
	w := NewParameter("linear.weight", []float32{4})
	inner, err := NewSolverOptimizer([]*ParamGroup{{Params: []*Parameter{w}, LearningRate: 0.1, Eps: 1e-8}}, VanillaSolver)
	require.NoError(t, err)
	opt, err := New(inner, WithK(2), WithAlpha(0.5))
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		opt.ZeroGrad()
		w.SetGrad([]float32{1})
		require.NoError(t, opt.Step())
	}
	// two plain descent steps of 0.1 then halfway back toward 4
	assert.InDelta(t, 3.9, w.Value.Data()[0], delta)
	slow, _ := opt.SlowWeights("linear.weight")
	assert.Equal(t, slow, w.Value.Data())
}

func TestSolverOptimizerAddParamGroup(t *testing.T) {
	var built int
	factory := func(g *ParamGroup) gorgonia.Solver {
		built++
		return AdamSolver(g)
	}
	opt, err := NewSolverOptimizer([]*ParamGroup{{Params: []*Parameter{NewParameter("a", []float32{1})}, Eps: 1e-8}}, factory)
	require.NoError(t, err)
	assert.Error(t, opt.AddParamGroup(&ParamGroup{Params: []*Parameter{NewParameter("a", []float32{1})}, Eps: 1e-8}))
	require.NoError(t, opt.AddParamGroup(&ParamGroup{Params: []*Parameter{NewParameter("b", []float32{1})}, Eps: 1e-8}))
	assert.Equal(t, 2, built)
	assert.Len(t, opt.ParamGroups(), 2)
}
