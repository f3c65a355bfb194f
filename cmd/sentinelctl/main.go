// Package main is the operator CLI for sentinel-lab.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"sentinel-lab/internal/app"
	"sentinel-lab/internal/config"
	"sentinel-lab/internal/domain/models"
	"sentinel-lab/internal/domain/services"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "sentinelctl",
		Short:         "Operate the behavioral anomaly pipeline from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringP("config", "c", "", "path to config file")

	rootCmd.AddCommand(
		newTrainCmd(),
		newScoreCmd(),
		newFingerprintCmd(),
		newScanCmd(),
		newModelCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// withApp loads config, wires the pipeline and hands it to fn.
// Logs go to stderr so stdout stays machine-readable.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := app.New(ctx, cfg, app.NewLogger(cfg, os.Stderr))
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTrainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train the anomaly model on stored identities or a population file",
		RunE: func(cmd *cobra.Command, args []string) error {
			populationFile, _ := cmd.Flags().GetString("population")
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				var (
					result *models.TrainingResult
					err    error
				)
				if populationFile != "" {
					var population []models.Fingerprint
					if err := readJSONFile(populationFile, &population); err != nil {
						return err
					}
					result, err = a.Trainer.Train(ctx, population)
				} else {
					result, err = a.Trainer.TrainFromStore(ctx)
				}
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), result)
			})
		},
	}
	cmd.Flags().String("population", "", "JSON file holding an array of fingerprints")
	return cmd
}

func newScoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score a fingerprint file or an identity's current fingerprint",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			identity, _ := cmd.Flags().GetString("identity")
			window, _ := cmd.Flags().GetDuration("window")
			explain, _ := cmd.Flags().GetBool("explain")
			if (file == "") == (identity == "") {
				return fmt.Errorf("exactly one of --file or --identity is required")
			}

			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				var fp models.Fingerprint
				if file != "" {
					if err := readJSONFile(file, &fp); err != nil {
						return err
					}
				} else {
					if _, err := a.Events.Identity(ctx, identity); err != nil {
						return err
					}
					computed, _, err := a.Extractor.ComputeFingerprint(ctx, identity, window)
					if err != nil {
						return err
					}
					fp = computed
				}

				score, err := a.Handle.Score(fp)
				if err != nil {
					return err
				}
				out := map[string]any{"score": score}
				if explain {
					explanation, err := a.Explainer.Explain(fp)
					if err != nil {
						return err
					}
					out["explanation"] = explanation
					out["category"] = services.DetermineCategory(explanation.TopFeatures)
				}
				return printJSON(cmd.OutOrStdout(), out)
			})
		},
	}
	cmd.Flags().String("file", "", "JSON file holding one fingerprint")
	cmd.Flags().String("identity", "", "identity whose fingerprint to compute")
	cmd.Flags().Duration("window", 24*time.Hour, "look-back window for --identity")
	cmd.Flags().Bool("explain", false, "include feature attribution")
	return cmd
}

func newFingerprintCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fingerprint <identity>",
		Short: "Compute an identity's behavioral fingerprint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			window, _ := cmd.Flags().GetDuration("window")
			if window <= 0 {
				return fmt.Errorf("--window must be positive")
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				if _, err := a.Events.Identity(ctx, args[0]); err != nil {
					return err
				}
				fp, count, err := a.Extractor.ComputeFingerprint(ctx, args[0], window)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), models.IdentityFingerprint{
					Identity:    args[0],
					Window:      window,
					EventCount:  count,
					Fingerprint: fp,
					ComputedAt:  time.Now().UTC(),
				})
			})
		},
	}
	cmd.Flags().Duration("window", 24*time.Hour, "look-back window")
	return cmd
}

func newScanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Score every known identity and record findings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				result, err := a.Detection.Scan(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), result)
			})
		},
	}
}

func newModelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "model",
		Short: "Show the loaded model artifact",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				return printJSON(cmd.OutOrStdout(), a.Handle.Info())
			})
		},
	}
}

func readJSONFile(path string, dst any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}
