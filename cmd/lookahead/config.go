package main

import (
	"fmt"
	"strings"

	"github.com/joshcarp/lookahead"
	"github.com/pkg/errors"
)

// InnerKind selects the optimizer that Lookahead wraps.
type InnerKind int

const (
	InnerAdamW InnerKind = iota
	InnerGorgoniaAdam
	InnerGorgoniaSGD
)

var innerNames = map[InnerKind]string{
	InnerAdamW:        "adamw",
	InnerGorgoniaAdam: "gorgonia-adam",
	InnerGorgoniaSGD:  "gorgonia-sgd",
}

func (k InnerKind) String() string {
	if name, ok := innerNames[k]; ok {
		return name
	}
	return fmt.Sprintf("InnerKind(%d)", int(k))
}

func ParseInnerKind(s string) (InnerKind, error) {
	for kind, name := range innerNames {
		if strings.EqualFold(s, name) {
			return kind, nil
		}
	}
	return 0, errors.Errorf("unknown inner optimizer %q", s)
}

// Set and Type let an InnerKind be used as a command line flag.
func (k *InnerKind) Set(s string) error {
	kind, err := ParseInnerKind(s)
	if err != nil {
		return err
	}
	*k = kind
	return nil
}

func (k *InnerKind) Type() string {
	return "inner"
}

type innerFactory func(groups []*lookahead.ParamGroup) (lookahead.Optimizer, error)

var innerFactories = map[InnerKind]innerFactory{
	InnerAdamW: func(groups []*lookahead.ParamGroup) (lookahead.Optimizer, error) {
		opt, err := lookahead.NewAdamW(groups)
		if err != nil {
			return nil, err
		}
		return opt, nil
	},
	InnerGorgoniaAdam: func(groups []*lookahead.ParamGroup) (lookahead.Optimizer, error) {
		opt, err := lookahead.NewSolverOptimizer(groups, lookahead.AdamSolver)
		if err != nil {
			return nil, err
		}
		return opt, nil
	},
	InnerGorgoniaSGD: func(groups []*lookahead.ParamGroup) (lookahead.Optimizer, error) {
		opt, err := lookahead.NewSolverOptimizer(groups, lookahead.VanillaSolver)
		if err != nil {
			return nil, err
		}
		return opt, nil
	},
}

func newInner(kind InnerKind, groups []*lookahead.ParamGroup) (lookahead.Optimizer, error) {
	factory, ok := innerFactories[kind]
	if !ok {
		return nil, errors.Errorf("no factory for inner optimizer %v", kind)
	}
	return factory(groups)
}

// Config holds everything a training run needs.
type Config struct {
	LookK        int
	LookAlpha    float32
	LearningRate float32
	WeightDecay  float32
	AdamEpsilon  float32
	Inner        InnerKind

	Steps     int
	BatchSize int
	Features  int
	Samples   int
	Noise     float64
	Seed      int64

	OutputDir string
	SaveSteps int
	LogSteps  int
	Resume    bool
}

func DefaultConfig() Config {
	return Config{
		LookK:        lookahead.DefaultK,
		LookAlpha:    lookahead.DefaultAlpha,
		LearningRate: 0.05,
		WeightDecay:  0.01,
		AdamEpsilon:  1e-8,
		Inner:        InnerAdamW,
		Steps:        500,
		BatchSize:    32,
		Features:     8,
		Samples:      1024,
		Noise:        0.1,
		Seed:         42,
		LogSteps:     50,
	}
}

// Validate checks the harness settings. Optimizer hyperparameters are checked by the optimizers themselves.
func (c Config) Validate() error {
	switch {
	case c.Steps < 0:
		return errors.Errorf("steps must be non-negative, got %d", c.Steps)
	case c.BatchSize < 1:
		return errors.Errorf("batch size must be positive, got %d", c.BatchSize)
	case c.Features < 1:
		return errors.Errorf("features must be positive, got %d", c.Features)
	case c.Samples < c.BatchSize:
		return errors.Errorf("samples (%d) must be at least the batch size (%d)", c.Samples, c.BatchSize)
	case c.SaveSteps < 0 || c.LogSteps < 0:
		return errors.Errorf("save and log steps must be non-negative")
	case (c.SaveSteps > 0 || c.Resume) && c.OutputDir == "":
		return errors.Errorf("an output directory is required to save or resume checkpoints")
	}
	return nil
}
