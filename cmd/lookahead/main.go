package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "lookahead",
		Short: "Train with the Lookahead optimizer",
		Long: `
		lookahead trains a small linear model on a synthetic regression problem with the Lookahead optimizer ("k steps forward, 1 step back") wrapped around an inner optimizer. It is meant for trying out k, alpha and the inner optimizer, and for exercising checkpoint save and resume.
	`,
		SilenceUsage: true,
	}
	goflags := flag.NewFlagSet("klog", flag.ContinueOnError)
	klog.InitFlags(goflags)
	rootCmd.PersistentFlags().AddGoFlagSet(goflags)
	rootCmd.AddCommand(newTrainCmd())
	return rootCmd
}

func newTrainCmd() *cobra.Command {
	cfg := DefaultConfig()
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Run a training loop",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := Train(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "steps: %d\nloss: %f\nweights: %v\nbias: %f\n", result.Steps, result.Loss, result.Weights, result.Bias)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.IntVar(&cfg.LookK, "look-k", cfg.LookK, "number of fast steps between slow weight updates")
	flags.Float32Var(&cfg.LookAlpha, "look-alpha", cfg.LookAlpha, "slow weight interpolation factor in (0, 1]")
	flags.Float32Var(&cfg.LearningRate, "learning-rate", cfg.LearningRate, "inner optimizer learning rate")
	flags.Float32Var(&cfg.WeightDecay, "weight-decay", cfg.WeightDecay, "weight decay for parameters other than biases and LayerNorm weights")
	flags.Float32Var(&cfg.AdamEpsilon, "adam-epsilon", cfg.AdamEpsilon, "epsilon for Adam")
	flags.Var(&cfg.Inner, "inner", "inner optimizer: adamw, gorgonia-adam or gorgonia-sgd")
	flags.IntVar(&cfg.Steps, "steps", cfg.Steps, "total number of optimizer steps")
	flags.IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "rows per mini-batch")
	flags.IntVar(&cfg.Features, "features", cfg.Features, "number of input features")
	flags.IntVar(&cfg.Samples, "samples", cfg.Samples, "number of synthetic samples")
	flags.Float64Var(&cfg.Noise, "noise", cfg.Noise, "standard deviation of the label noise")
	flags.Int64Var(&cfg.Seed, "seed", cfg.Seed, "random seed")
	flags.StringVar(&cfg.OutputDir, "output-dir", cfg.OutputDir, "directory for checkpoints")
	flags.IntVar(&cfg.SaveSteps, "save-steps", cfg.SaveSteps, "save a checkpoint every n steps (0 disables)")
	flags.IntVar(&cfg.LogSteps, "log-steps", cfg.LogSteps, "log the training loss every n steps (0 disables)")
	flags.BoolVar(&cfg.Resume, "resume", cfg.Resume, "resume from the latest checkpoint in --output-dir")
	return cmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	defer klog.Flush()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		klog.ErrorS(err, "lookahead failed")
		klog.Flush()
		os.Exit(1)
	}
}
