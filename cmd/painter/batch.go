package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fpang/painting-studio/internal/cli"
	"github.com/fpang/painting-studio/internal/filehandler"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	parallelFlag int
	maxDepthFlag int
	limitFlag    int
)

var batchCmd = &cobra.Command{
	Use:   "batch <photo|directory>...",
	Short: "Run the pipeline for several photos",
	Long: `Run an independent pipeline for every photo given. Directories are scanned
for supported photos (see --max-depth and --limit). Runs share nothing but the
API rate limit; one failing run does not stop the others.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runBatch,
}

func init() {
	batchCmd.Flags().IntVarP(&parallelFlag, "parallel", "p", 1, "Runs to execute concurrently")
	batchCmd.Flags().IntVar(&maxDepthFlag, "max-depth", 0, "Directory recursion depth (0 = unlimited)")
	batchCmd.Flags().IntVar(&limitFlag, "limit", 0, "Maximum photos to take from each directory (0 = unlimited)")
}

func runBatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	photos, err := collectPhotos(args, filehandler.ScanOptions{MaxDepth: maxDepthFlag, Limit: limitFlag})
	if err != nil {
		return err
	}
	if len(photos) == 0 {
		return fmt.Errorf("no photos found")
	}

	a, err := newApp(ctx, cfg, dryRunFlag, validateKeyFlag, os.Stdout)
	if err != nil {
		return err
	}
	a.logStartup("batch")

	start := time.Now()
	outcomes := a.runBatch(ctx, photos, parallelFlag)

	fmt.Println()
	fmt.Println(renderBatch(outcomes))
	fmt.Printf("Elapsed: %s\n", cli.FormatDurationShort(time.Since(start)))

	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		log.Error().Int("failed", failed).Int("total", len(outcomes)).Msg("Batch finished with failures")
		return errRunFailed
	}
	return nil
}

// collectPhotos expands the batch arguments into photo paths. Files are
// validated individually and directories are scanned.
func collectPhotos(args []string, opts filehandler.ScanOptions) ([]string, error) {
	var photos []string
	seen := make(map[string]bool)
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			photos = append(photos, p)
		}
	}

	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("photo not found: %s", arg)
		}
		if !info.IsDir() {
			p, err := cli.ValidateAndResolvePhoto(arg)
			if err != nil {
				return nil, err
			}
			add(p)
			continue
		}
		dir, err := cli.ValidateAndResolveDirectory(arg)
		if err != nil {
			return nil, err
		}
		found, err := filehandler.ScanPhotos(dir, opts)
		if err != nil {
			return nil, err
		}
		for _, p := range found {
			add(p)
		}
	}
	return photos, nil
}

// runBatch runs photos with at most parallel runs in flight. Outcomes are
// returned in input order and always carry the run error, if any.
func (a *app) runBatch(ctx context.Context, photos []string, parallel int) []*runOutcome {
	outcomes := make([]*runOutcome, len(photos))

	var g errgroup.Group
	g.SetLimit(max(parallel, 1))
	for i, photo := range photos {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				outcomes[i] = &runOutcome{Photo: photo, Err: context.Cause(ctx)}
				return nil
			}
			outcome, err := a.runPhoto(ctx, photo, "")
			if outcome == nil {
				outcome = &runOutcome{Photo: photo}
			}
			outcome.Err = err
			if err != nil {
				log.Warn().Err(err).Str("photo", photo).Msg("Run did not complete")
			}
			outcomes[i] = outcome
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}
