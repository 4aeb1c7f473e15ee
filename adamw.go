package lookahead

import (
	"github.com/pkg/errors"
)

// AdamW is Adam with weight decay applied to the parameters, using the
// learning rate, weight decay and epsilon of each parameter's group.
type AdamW struct {
	groups []*ParamGroup
	beta1  float32
	beta2  float32
	// First and second moment estimates, keyed by parameter name
	m map[string][]float32
	v map[string][]float32
	t int
}

type AdamWOption func(*AdamW)

// WithBetas sets the moment decay rates. Both must be in [0, 1).
func WithBetas(beta1, beta2 float32) AdamWOption {
	return func(a *AdamW) {
		a.beta1, a.beta2 = beta1, beta2
	}
}

func NewAdamW(groups []*ParamGroup, opts ...AdamWOption) (*AdamW, error) {
	a := &AdamW{
		beta1: 0.9,
		beta2: 0.999,
		m:     map[string][]float32{},
		v:     map[string][]float32{},
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.beta1 < 0 || a.beta1 >= 1 {
		return nil, invalidArgument("beta1", a.beta1, "outside allowed range [0, 1)")
	}
	if a.beta2 < 0 || a.beta2 >= 1 {
		return nil, invalidArgument("beta2", a.beta2, "outside allowed range [0, 1)")
	}
	if err := checkNames(map[string]struct{}{}, groups...); err != nil {
		return nil, err
	}
	for _, g := range groups {
		if err := checkGroup(g); err != nil {
			return nil, err
		}
	}
	a.groups = append(a.groups, groups...)
	return a, nil
}

func checkGroup(g *ParamGroup) error {
	if g.LearningRate < 0 {
		return invalidArgument("learning_rate", g.LearningRate, "outside allowed range [0, Inf)")
	}
	if g.WeightDecay < 0 {
		return invalidArgument("weight_decay", g.WeightDecay, "outside allowed range [0, Inf)")
	}
	if g.Eps <= 0 {
		return invalidArgument("eps", g.Eps, "outside allowed range (0, Inf)")
	}
	return nil
}

func (a *AdamW) ParamGroups() []*ParamGroup {
	return a.groups
}

func (a *AdamW) AddParamGroup(g *ParamGroup) error {
	seen := map[string]struct{}{}
	for _, existing := range a.groups {
		for _, p := range existing.Params {
			seen[p.Name] = struct{}{}
		}
	}
	if err := checkNames(seen, g); err != nil {
		return err
	}
	if err := checkGroup(g); err != nil {
		return err
	}
	a.groups = append(a.groups, g)
	return nil
}

func (a *AdamW) ZeroGrad() {
	zeroGrad(a.groups)
}

// Step validates every gradient first, so a malformed gradient leaves all parameters untouched.
func (a *AdamW) Step() error {
	for _, g := range a.groups {
		for _, p := range g.Params {
			if p.Grad == nil {
				continue
			}
			if !p.Grad.sameShape(p.Value) || len(p.Grad.data) != len(p.Value.data) {
				return errors.Errorf("adamw: gradient shape %v does not match parameter %s", p.Grad.dims, p)
			}
			if !IsFinite(p.Grad.data) {
				return errors.Errorf("adamw: non-finite gradient for parameter %s", p)
			}
		}
	}
	a.t++
	beta1, beta2 := a.beta1, a.beta2
	// Bias correction
	bc1 := 1.0 - Pow(beta1, float32(a.t))
	bc2 := 1.0 - Pow(beta2, float32(a.t))
	for _, g := range a.groups {
		learningRate, weightDecay, eps := g.LearningRate, g.WeightDecay, g.Eps
		for _, p := range g.Params {
			if p.Grad == nil {
				continue
			}
			params, grads := p.Value.data, p.Grad.data
			mMemory, ok := a.m[p.Name]
			if !ok {
				mMemory = make([]float32, len(params))
				a.m[p.Name] = mMemory
			}
			vMemory, ok := a.v[p.Name]
			if !ok {
				vMemory = make([]float32, len(params))
				a.v[p.Name] = vMemory
			}
			for i := range params {
				parameter := params[i]
				gradient := grads[i]
				// Momentum update
				m := beta1*mMemory[i] + (1.0-beta1)*gradient
				// RMSprop update
				v := beta2*vMemory[i] + (1.0-beta2)*gradient*gradient
				mHat := m / bc1
				vHat := v / bc2
				mMemory[i] = m
				vMemory[i] = v
				params[i] -= learningRate * (mHat/(Sqrt(vHat)+eps) + weightDecay*parameter)
			}
		}
	}
	return nil
}
