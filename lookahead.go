// Package lookahead implements the Lookahead optimizer: an inner optimizer
// moves the fast weights every step, and every k steps a set of slow weights
// is pulled toward the fast weights by a factor alpha, after which the fast
// weights are reset to the slow ones.
//
//	inner, _ := lookahead.NewAdamW(lookahead.GroupParameters(params, 2e-5, 0.01, 1e-8))
//	opt, err := lookahead.New(inner, lookahead.WithK(5), lookahead.WithAlpha(0.5))
//	...
//	opt.ZeroGrad()
//	computeGradients(params)
//	if err := opt.Step(); err != nil { ... }
//
// Lookahead is not safe for concurrent use.
package lookahead

import (
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const (
	DefaultK     = 5
	DefaultAlpha = 0.5
)

// Lookahead wraps an inner optimizer and keeps a slow copy of every parameter it manages.
type Lookahead struct {
	inner Optimizer
	k     int
	alpha float32
	step  int
	slow  map[string][]float32
}

type Option func(*Lookahead)

// WithK sets the synchronisation period. It must be at least 1.
func WithK(k int) Option {
	return func(l *Lookahead) {
		l.k = k
	}
}

// WithAlpha sets the interpolation factor. It must be in (0, 1].
func WithAlpha(alpha float32) Option {
	return func(l *Lookahead) {
		l.alpha = alpha
	}
}

// New wraps inner, copying the current value of every parameter it manages into the slow weights.
func New(inner Optimizer, opts ...Option) (*Lookahead, error) {
	l := &Lookahead{
		inner: inner,
		k:     DefaultK,
		alpha: DefaultAlpha,
		slow:  map[string][]float32{},
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.k < 1 {
		return nil, invalidArgument("k", l.k, "outside allowed range [1, Inf)")
	}
	if !(l.alpha > 0 && l.alpha <= 1) {
		return nil, invalidArgument("alpha", l.alpha, "outside allowed range (0, 1]")
	}
	if inner == nil {
		return nil, invalidArgument("inner", nil, "inner optimizer is required")
	}
	if err := checkNames(map[string]struct{}{}, inner.ParamGroups()...); err != nil {
		return nil, err
	}
	for _, g := range inner.ParamGroups() {
		l.seed(g)
	}
	return l, nil
}

func MustNew(inner Optimizer, opts ...Option) *Lookahead {
	l, err := New(inner, opts...)
	if err != nil {
		panic(err)
	}
	return l
}

func (l *Lookahead) seed(g *ParamGroup) {
	for _, p := range g.Params {
		l.slow[p.Name] = append([]float32(nil), p.Value.data...)
	}
}

// Step runs one inner step and, every k steps, synchronises slow and fast weights.
// An error from the inner optimizer is returned as is and the step is not counted.
// Every parameter of the inner optimizer must have slow weights, so groups have to
// be added through the Lookahead rather than the inner optimizer.
func (l *Lookahead) Step() error {
	if err := l.checkTracked(); err != nil {
		return err
	}
	if err := l.inner.Step(); err != nil {
		return err
	}
	l.step++
	if l.step%l.k != 0 {
		return nil
	}
	alpha := l.alpha
	for _, g := range l.inner.ParamGroups() {
		for _, p := range g.Params {
			fast := p.Value.data
			slow := l.slow[p.Name]
			if alpha == 1 {
				copy(slow, fast)
				continue
			}
			for i := range slow {
				slow[i] += alpha * (fast[i] - slow[i])
			}
			copy(fast, slow)
		}
	}
	klog.V(4).InfoS("lookahead synchronised slow weights", "step", l.step, "k", l.k, "alpha", l.alpha, "params", len(l.slow))
	return nil
}

func (l *Lookahead) checkTracked() error {
	for _, g := range l.inner.ParamGroups() {
		for _, p := range g.Params {
			slow, ok := l.slow[p.Name]
			if !ok {
				return errors.Errorf("lookahead: no slow weights for %s, add groups through the lookahead optimizer", p)
			}
			if len(slow) != len(p.Value.data) {
				return errors.Errorf("lookahead: %d slow weights for %s, want %d", len(slow), p, len(p.Value.data))
			}
		}
	}
	return nil
}

func (l *Lookahead) ZeroGrad() {
	l.inner.ZeroGrad()
}

func (l *Lookahead) ParamGroups() []*ParamGroup {
	return l.inner.ParamGroups()
}

// AddParamGroup hands g to the inner optimizer and starts tracking slow weights for its parameters.
func (l *Lookahead) AddParamGroup(g *ParamGroup) error {
	seen := make(map[string]struct{}, len(l.slow))
	for name := range l.slow {
		seen[name] = struct{}{}
	}
	if err := checkNames(seen, g); err != nil {
		return err
	}
	if err := l.inner.AddParamGroup(g); err != nil {
		return err
	}
	l.seed(g)
	return nil
}

func (l *Lookahead) StepCount() int {
	return l.step
}

func (l *Lookahead) K() int {
	return l.k
}

func (l *Lookahead) Alpha() float32 {
	return l.alpha
}

// SlowWeights returns a copy of the slow weights of the named parameter.
func (l *Lookahead) SlowWeights(name string) ([]float32, bool) {
	slow, ok := l.slow[name]
	if !ok {
		return nil, false
	}
	return append([]float32(nil), slow...), true
}
