package lookahead

// Optimizer updates the parameters of its groups in place from their gradients.
type Optimizer interface {
	// Step applies one update to every parameter that has a gradient.
	Step() error
	// ZeroGrad clears the gradients of every managed parameter.
	ZeroGrad()
	// ParamGroups returns the groups in the order the optimizer was given them.
	ParamGroups() []*ParamGroup
	// AddParamGroup starts managing another group.
	AddParamGroup(g *ParamGroup) error
}

func zeroGrad(groups []*ParamGroup) {
	for _, g := range groups {
		for _, p := range g.Params {
			p.ZeroGrad()
		}
	}
}

// checkNames makes sure every parameter across groups has a distinct, non-empty name.
func checkNames(seen map[string]struct{}, groups ...*ParamGroup) error {
	for _, g := range groups {
		if g == nil {
			return invalidArgument("group", nil, "nil parameter group")
		}
		for _, p := range g.Params {
			if p == nil {
				return invalidArgument("param", nil, "nil parameter")
			}
			if p.Name == "" {
				return invalidArgument("param", p.Value.dims, "parameter has no name")
			}
			if _, ok := seen[p.Name]; ok {
				return invalidArgument("param", p.Name, "duplicate parameter name")
			}
			seen[p.Name] = struct{}{}
		}
	}
	return nil
}
