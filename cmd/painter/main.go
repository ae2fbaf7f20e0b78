package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fpang/painting-studio/internal/cli"
	"github.com/fpang/painting-studio/internal/config"
	"github.com/fpang/painting-studio/internal/logging"
	"github.com/fpang/painting-studio/internal/metrics"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// Build-time version identity, injected via -ldflags:
//
//	go build -ldflags="-X main.version=1.0.0 -X main.commitHash=$(git rev-parse --short HEAD) -X main.buildTime=$(date -u +%Y%m%dT%H%M%SZ)" ./cmd/painter
var (
	version    = "dev"
	commitHash = "dev"
	buildTime  = "unknown"
)

// CLI flags
var (
	configFlag        string
	outputFlag        string
	maxAttemptsFlag   int
	thresholdFlag     float64
	imageModelFlag    string
	critiqueModelFlag string
	dryRunFlag        bool
	gridFlag          bool
	timeoutFlag       time.Duration
	pickFlag          bool
	validateKeyFlag   bool
	metricsFileFlag   string
	logLevelFlag      string
	logFormatFlag     string
)

// errRunFailed is returned after a failed run has already been reported.
var errRunFailed = errors.New("run did not complete")

// rootCmd runs the pipeline for a single photo.
var rootCmd = &cobra.Command{
	Use:   "painter [photo] [run-name]",
	Short: "Turn a photo into a progressive series of painting studies",
	Long: `Painter turns a single photo into five progressive painting studies: block-in,
form and edges, development, atmosphere and final. Each stage is generated by a
Gemini image model, critiqued against the stage criteria, and retried with the
critique's issues until it passes or the attempts run out. When no attempt
passes, the highest-scoring one is kept and the run continues.

Every candidate, the accepted image of each stage and results.json are written
to <output>/<run-name>_<YYYYmmdd_HHMMSS>/.

Examples:
  painter photo.jpg
  painter photo.jpg harbour --max-attempts 4 --threshold 7.5
  painter photo.jpg --dry-run --grid
  painter --pick
  painter batch ./photos --parallel 2
  painter grid output/harbour_20260314_093000
  painter show output/harbour_20260314_093000/results.json`,
	Args:              cobra.MaximumNArgs(2),
	PersistentPreRunE: setup,
	RunE:              runMain,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFlag, "config", "", "Config file (default ~/.config/painting-studio/config.toml, then ./painter.toml)")
	pf.StringVarP(&outputFlag, "output", "o", "", "Output directory for session folders")
	pf.IntVar(&maxAttemptsFlag, "max-attempts", 0, "Generation attempts per stage")
	pf.Float64Var(&thresholdFlag, "threshold", 0, "Critique score (0-10) a stage must reach to pass")
	pf.StringVar(&imageModelFlag, "image-model", "", "Gemini image model")
	pf.StringVar(&critiqueModelFlag, "critique-model", "", "Gemini critique model")
	pf.BoolVar(&dryRunFlag, "dry-run", false, "Use synthetic generation and critique; no API calls")
	pf.BoolVar(&gridFlag, "grid", false, "Write transfer grid overlays for accepted stage images")
	pf.DurationVar(&timeoutFlag, "timeout", 0, "Cancel a run after this long (e.g. 45m)")
	pf.BoolVar(&validateKeyFlag, "validate-key", false, "Validate the API key with a minimal request before running")
	pf.StringVar(&metricsFileFlag, "metrics-file", "", "Append CloudWatch EMF metrics to this file")
	pf.StringVar(&logLevelFlag, "log-level", "", "Log level: trace, debug, info, warn, error")
	pf.StringVar(&logFormatFlag, "log-format", "", "Log format: console or json")

	rootCmd.Flags().BoolVar(&pickFlag, "pick", false, "Choose the photo with a file dialog")

	rootCmd.AddCommand(batchCmd, gridCmd, showCmd, configCmd)
}

func main() {
	ctx, stop := signalContext(context.Background())
	err := rootCmd.ExecuteContext(ctx)
	stop()
	closeMetrics()

	if err != nil {
		if !errors.Is(err, errRunFailed) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

// cfg is the effective configuration, loaded once in setup.
var cfg *config.Config

var metricsFile *os.File

// setup loads the configuration, applies flag overrides, and initializes
// logging and metrics for every command.
func setup(cmd *cobra.Command, _ []string) error {
	loaded, path, exists, err := config.Load(configFlag)
	if err != nil {
		return err
	}
	if err := applyFlagOverrides(cmd, loaded); err != nil {
		return err
	}
	cfg = loaded

	logging.Init(cfg.Logging.Level, cfg.Logging.Format)
	if exists {
		log.Debug().Str("path", path).Msg("Configuration loaded")
	}

	if metricsFileFlag == "" {
		metrics.SetOutput(io.Discard)
		return nil
	}
	f, err := os.OpenFile(metricsFileFlag, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open metrics file: %w", err)
	}
	metricsFile = f
	metrics.SetOutput(f)
	return nil
}

func closeMetrics() {
	if metricsFile != nil {
		metrics.SetOutput(io.Discard)
		metricsFile.Close()
	}
}

// applyFlagOverrides copies explicitly set flags over the file values and
// revalidates.
func applyFlagOverrides(cmd *cobra.Command, c *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("output") {
		dir, err := config.ExpandPath(outputFlag)
		if err != nil {
			return err
		}
		c.Output.Dir = dir
	}
	if flags.Changed("max-attempts") {
		c.Pipeline.MaxAttempts = maxAttemptsFlag
	}
	if flags.Changed("threshold") {
		c.Pipeline.PassThreshold = thresholdFlag
	}
	if flags.Changed("image-model") {
		c.Gemini.ImageModel = imageModelFlag
	}
	if flags.Changed("critique-model") {
		c.Gemini.CritiqueModel = critiqueModelFlag
	}
	if flags.Changed("grid") {
		c.Grid.Enabled = gridFlag
	}
	if flags.Changed("timeout") {
		c.Pipeline.RunTimeoutMinutes = int((timeoutFlag + time.Minute - 1) / time.Minute)
	}
	if flags.Changed("log-level") {
		c.Logging.Level = strings.ToLower(logLevelFlag)
	}
	if flags.Changed("log-format") {
		c.Logging.Format = strings.ToLower(logFormatFlag)
	}
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	return nil
}

// runMain is the main execution logic called by Cobra.
func runMain(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	var photoPath, name string
	switch {
	case len(args) > 0:
		photoPath = args[0]
		if len(args) > 1 {
			name = args[1]
		}
	case pickFlag:
		picked, err := cli.PickPhoto()
		if err != nil {
			return err
		}
		photoPath = picked
	default:
		return cmd.Help()
	}

	photoPath, err := cli.ValidateAndResolvePhoto(photoPath)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, dryRunFlag, validateKeyFlag, os.Stdout)
	if err != nil {
		return err
	}
	a.logStartup("run")

	start := time.Now()
	outcome, err := a.runPhoto(ctx, photoPath, name)
	if outcome != nil && outcome.Results != nil {
		fmt.Println()
		fmt.Println(renderResults(outcome.Results))
		if reason := describeFailure(outcome.Results); reason != "" {
			fmt.Printf("Stopped: %s\n", reason)
		}
		fmt.Printf("Session: %s\n", outcome.Dir)
		if loc := outcome.Results.Location; loc != outcome.Dir {
			fmt.Printf("Published: %s\n", loc)
		}
		for _, g := range outcome.Grids {
			fmt.Printf("Grid: %s\n", g)
		}
		fmt.Printf("Elapsed: %s\n", cli.FormatDurationShort(time.Since(start)))
	}
	if err != nil {
		log.Error().Err(err).Msg("Run failed")
		return errRunFailed
	}
	return nil
}
