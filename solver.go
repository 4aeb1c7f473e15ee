package lookahead

import (
	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	gtensor "gorgonia.org/tensor"
)

// SolverFactory builds the gorgonia solver that updates one parameter group.
type SolverFactory func(g *ParamGroup) gorgonia.Solver

// AdamSolver builds a gorgonia Adam solver from the group's hyperparameters.
// Weight decay becomes L2 regularisation of the gradient.
func AdamSolver(g *ParamGroup) gorgonia.Solver {
	opts := []gorgonia.SolverOpt{
		gorgonia.WithLearnRate(float64(g.LearningRate)),
		gorgonia.WithEps(float64(g.Eps)),
	}
	if g.WeightDecay > 0 {
		opts = append(opts, gorgonia.WithL2Reg(float64(g.WeightDecay)))
	}
	return gorgonia.NewAdamSolver(opts...)
}

// VanillaSolver builds a plain gradient descent solver from the group's learning rate.
func VanillaSolver(g *ParamGroup) gorgonia.Solver {
	opts := []gorgonia.SolverOpt{gorgonia.WithLearnRate(float64(g.LearningRate))}
	if g.WeightDecay > 0 {
		opts = append(opts, gorgonia.WithL2Reg(float64(g.WeightDecay)))
	}
	return gorgonia.NewVanillaSolver(opts...)
}

// denseParam exposes a Parameter to gorgonia. The value is a view over the
// parameter's memory, so the solver updates the parameter in place.
type denseParam struct {
	p     *Parameter
	value *gtensor.Dense
}

func (d denseParam) Value() gorgonia.Value {
	return d.value
}

func (d denseParam) Grad() (gorgonia.Value, error) {
	if d.p.Grad == nil {
		return nil, errors.Errorf("parameter %s has no gradient", d.p)
	}
	// gorgonia scales and clears the gradient it is handed, so it gets a copy
	grad := append([]float32(nil), d.p.Grad.data...)
	return gtensor.New(gtensor.WithShape(d.p.Grad.dims...), gtensor.WithBacking(grad)), nil
}

type solverGroup struct {
	solver gorgonia.Solver
	model  []gorgonia.ValueGrad
}

// SolverOptimizer runs one gorgonia solver per parameter group.
type SolverOptimizer struct {
	factory SolverFactory
	groups  []*ParamGroup
	solvers []solverGroup
}

func NewSolverOptimizer(groups []*ParamGroup, factory SolverFactory) (*SolverOptimizer, error) {
	if factory == nil {
		factory = AdamSolver
	}
	if err := checkNames(map[string]struct{}{}, groups...); err != nil {
		return nil, err
	}
	s := &SolverOptimizer{factory: factory}
	for _, g := range groups {
		if err := s.add(g); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *SolverOptimizer) add(g *ParamGroup) error {
	if err := checkGroup(g); err != nil {
		return err
	}
	sg := solverGroup{solver: s.factory(g)}
	for _, p := range g.Params {
		sg.model = append(sg.model, denseParam{
			p:     p,
			value: gtensor.New(gtensor.WithShape(p.Value.dims...), gtensor.WithBacking(p.Value.data)),
		})
	}
	s.groups = append(s.groups, g)
	s.solvers = append(s.solvers, sg)
	return nil
}

func (s *SolverOptimizer) ParamGroups() []*ParamGroup {
	return s.groups
}

func (s *SolverOptimizer) AddParamGroup(g *ParamGroup) error {
	seen := map[string]struct{}{}
	for _, existing := range s.groups {
		for _, p := range existing.Params {
			seen[p.Name] = struct{}{}
		}
	}
	if err := checkNames(seen, g); err != nil {
		return err
	}
	return s.add(g)
}

func (s *SolverOptimizer) ZeroGrad() {
	zeroGrad(s.groups)
}

// Step requires a gradient on every parameter. Gradients are checked before
// any solver runs.
func (s *SolverOptimizer) Step() error {
	for _, g := range s.groups {
		for _, p := range g.Params {
			if p.Grad == nil {
				return errors.Errorf("solver: parameter %s has no gradient", p)
			}
			if !p.Grad.sameShape(p.Value) {
				return errors.Errorf("solver: gradient shape %v does not match parameter %s", p.Grad.dims, p)
			}
		}
	}
	for i, sg := range s.solvers {
		if err := sg.solver.Step(sg.model); err != nil {
			return errors.Wrapf(err, "solver step failed for group %d", i)
		}
	}
	return nil
}
