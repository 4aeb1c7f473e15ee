package lookahead

import (
	"fmt"
	"strings"
)

type tensor struct {
	data []float32
	dims []int
}

func (t tensor) Data() []float32 {
	return t.data
}

func (t tensor) Dims() []int {
	return t.dims
}

func newTensor(data []float32, dims ...int) tensor {
	if len(dims) == 0 {
		dims = []int{len(data)}
	}
	t := tensor{dims: dims}
	s := t.size()
	if s > len(data) {
		panic("dimensions larger than supplied data")
	}
	t.data = data[:s]
	return t
}

func (t tensor) size() int {
	size := 1
	for _, dim := range t.dims {
		size *= dim
	}
	return size
}

func (t tensor) sameShape(o tensor) bool {
	if len(t.dims) != len(o.dims) {
		return false
	}
	for i := range t.dims {
		if t.dims[i] != o.dims[i] {
			return false
		}
	}
	return true
}

// Parameter is a named, mutable tensor owned by the model being trained.
// Grad is populated by whatever computes gradients before each optimizer step.
type Parameter struct {
	Name  string
	Value tensor
	Grad  *tensor
}

// NewParameter wraps data as a parameter. The parameter shares data; it is not copied.
// With no dims the parameter is a vector of len(data).
func NewParameter(name string, data []float32, dims ...int) *Parameter {
	return &Parameter{
		Name:  name,
		Value: newTensor(data, dims...),
	}
}

// SetGrad sets the gradient for the next step. The gradient must have the parameter's shape.
func (p *Parameter) SetGrad(grad []float32) {
	g := newTensor(grad, p.Value.dims...)
	p.Grad = &g
}

// ZeroGrad clears the gradient in place, or does nothing if none is set.
func (p *Parameter) ZeroGrad() {
	if p.Grad == nil {
		return
	}
	for i := range p.Grad.data {
		p.Grad.data[i] = 0
	}
}

func (p *Parameter) String() string {
	return fmt.Sprintf("%s%v", p.Name, p.Value.dims)
}

// ParamGroup is a set of parameters sharing optimisation hyperparameters.
type ParamGroup struct {
	Params       []*Parameter
	LearningRate float32
	WeightDecay  float32
	Eps          float32
}

// DefaultNoDecay are the parameter name fragments that are excluded from weight decay.
var DefaultNoDecay = []string{"bias", "LayerNorm.weight"}

// GroupParameters splits params into a decayed group and an undecayed group.
// A parameter goes to the undecayed group when its name contains any of noDecay
// (DefaultNoDecay if none given). Empty groups are left out.
func GroupParameters(params []*Parameter, learningRate, weightDecay, eps float32, noDecay ...string) []*ParamGroup {
	if len(noDecay) == 0 {
		noDecay = DefaultNoDecay
	}
	decayed := &ParamGroup{LearningRate: learningRate, WeightDecay: weightDecay, Eps: eps}
	undecayed := &ParamGroup{LearningRate: learningRate, WeightDecay: 0, Eps: eps}
	for _, p := range params {
		if containsAny(p.Name, noDecay) {
			undecayed.Params = append(undecayed.Params, p)
		} else {
			decayed.Params = append(decayed.Params, p)
		}
	}
	var groups []*ParamGroup
	if len(decayed.Params) > 0 {
		groups = append(groups, decayed)
	}
	if len(undecayed.Params) > 0 {
		groups = append(groups, undecayed)
	}
	return groups
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
