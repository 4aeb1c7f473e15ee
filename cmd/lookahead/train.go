package main

import (
	"context"
	"math/rand"
	"time"

	"github.com/joshcarp/lookahead"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Result summarises a finished training run.
type Result struct {
	StartStep int
	Steps     int
	Loss      float64
	Weights   []float32
	Bias      float32
}

// Train fits a linear model to a synthetic regression problem with Lookahead over cfg.Inner.
func Train(ctx context.Context, cfg Config) (Result, error) {
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}
	klog.InfoS("initializing data", "samples", cfg.Samples, "features", cfg.Features, "seed", cfg.Seed)
	rng := rand.New(rand.NewSource(cfg.Seed))
	data := newRegression(cfg.Samples, cfg.Features, cfg.Noise, rng)
	loader, err := newBatchLoader(data, cfg.BatchSize)
	if err != nil {
		return Result{}, err
	}

	klog.InfoS("initializing optimizer", "inner", cfg.Inner, "k", cfg.LookK, "alpha", cfg.LookAlpha, "lr", cfg.LearningRate, "weightDecay", cfg.WeightDecay)
	model := newLinearModel(cfg.Features)
	groups := lookahead.GroupParameters(model.params(), cfg.LearningRate, cfg.WeightDecay, cfg.AdamEpsilon)
	inner, err := newInner(cfg.Inner, groups)
	if err != nil {
		return Result{}, errors.Wrap(err, "failed to build inner optimizer")
	}
	opt, err := lookahead.New(inner, lookahead.WithK(cfg.LookK), lookahead.WithAlpha(cfg.LookAlpha))
	if err != nil {
		return Result{}, err
	}

	if cfg.Resume {
		if err := resume(opt, cfg.OutputDir); err != nil {
			return Result{}, err
		}
	}
	start := opt.StepCount()
	// replay the batch order so a resumed run sees the same batches
	for i := 0; i < start; i++ {
		loader.NextBatch()
	}

	klog.InfoS("training", "startStep", start, "steps", cfg.Steps, "batchSize", cfg.BatchSize, "numBatches", loader.numBatches)
	for step := start; step < cfg.Steps; step++ {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		default:
		}
		begin := time.Now()
		x, y := loader.NextBatch()
		opt.ZeroGrad()
		loss := model.LossAndGrad(x, y)
		if !lookahead.IsFinite([]float32{float32(loss)}) {
			return Result{}, errors.Errorf("loss diverged at step %d: %v", step, loss)
		}
		if err := opt.Step(); err != nil {
			return Result{}, errors.Wrapf(err, "optimizer step %d failed", step)
		}
		if cfg.LogSteps > 0 && opt.StepCount()%cfg.LogSteps == 0 {
			klog.InfoS("train", "step", opt.StepCount(), "loss", loss, "took", time.Since(begin))
		}
		if cfg.SaveSteps > 0 && opt.StepCount()%cfg.SaveSteps == 0 {
			path, err := lookahead.SaveCheckpoint(cfg.OutputDir, opt.Checkpoint())
			if err != nil {
				return Result{}, err
			}
			klog.InfoS("saved checkpoint", "path", path)
		}
	}

	result := Result{
		StartStep: start,
		Steps:     opt.StepCount(),
		Loss:      model.Loss(data.x, data.y),
		Weights:   append([]float32(nil), model.weight.Value.Data()...),
		Bias:      model.bias.Value.Data()[0],
	}
	klog.InfoS("finished training", "steps", result.Steps, "loss", result.Loss)
	return result, nil
}

func resume(opt *lookahead.Lookahead, dir string) error {
	path, err := lookahead.LatestCheckpoint(dir)
	if errors.Is(err, lookahead.ErrNoCheckpoint) {
		klog.InfoS("no checkpoint to resume from, starting fresh", "dir", dir)
		return nil
	}
	if err != nil {
		return err
	}
	c, err := lookahead.LoadCheckpoint(path)
	if err != nil {
		return err
	}
	if err := opt.Restore(c); err != nil {
		return errors.Wrapf(err, "failed to restore %s", path)
	}
	klog.InfoS("resumed from checkpoint", "path", path, "step", opt.StepCount())
	return nil
}
