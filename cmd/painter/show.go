package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fpang/painting-studio/internal/store"
	"github.com/spf13/cobra"
)

var showRunFlag string

var showCmd = &cobra.Command{
	Use:   "show [results.json|session-dir|s3://bucket/key]",
	Short: "Show the outcome of a run",
	Long: `Print the stage table of a finished run. The run is read from a local
results document (plain or .zst), a session directory, or an object in S3.
With --run the summary is read from the DynamoDB index instead.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runShow,
}

func init() {
	showCmd.Flags().StringVar(&showRunFlag, "run", "", "Run ID to look up in the DynamoDB index")
}

func runShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	w := cmd.OutOrStdout()

	if showRunFlag != "" {
		index, err := remoteIndex(ctx, cfg)
		if err != nil {
			return err
		}
		run, stageItems, err := index.GetRun(ctx, showRunFlag)
		if err != nil {
			return err
		}
		if run == nil {
			return fmt.Errorf("run %s not found in %s", showRunFlag, cfg.Output.DynamoDBTable)
		}
		fmt.Fprintln(w, renderIndexedRun(run, stageItems))
		if run.Location != "" {
			fmt.Fprintf(w, "Location: %s\n", run.Location)
		}
		return nil
	}

	if len(args) == 0 {
		return fmt.Errorf("give a results file, session directory, s3:// URI or --run")
	}
	target := args[0]

	var res *store.Results
	if strings.HasPrefix(target, "s3://") {
		bucket, key, err := store.ParseS3URI(target)
		if err != nil {
			return err
		}
		s3Store, err := remoteStore(ctx, cfg, bucket)
		if err != nil {
			return err
		}
		if !strings.HasSuffix(key, "/") {
			res, err = s3Store.ReadResults(ctx, key)
		} else {
			// A session prefix; the document may be stored compressed.
			res, err = s3Store.ReadResults(ctx, key+store.ResultsFileName)
			if err != nil {
				res, err = s3Store.ReadResults(ctx, key+store.ResultsFileName+".zst")
			}
		}
		if err != nil {
			return err
		}
	} else {
		path, err := resolveResultsPath(target)
		if err != nil {
			return err
		}
		if res, err = store.ReadResultsFile(path); err != nil {
			return err
		}
	}

	fmt.Fprintln(w, renderResults(res))
	if reason := describeFailure(res); reason != "" {
		fmt.Fprintf(w, "Stopped: %s\n", reason)
	}
	if res.Location != "" {
		fmt.Fprintf(w, "Location: %s\n", res.Location)
	}
	return nil
}

// resolveResultsPath maps a session directory to its results document.
func resolveResultsPath(target string) (string, error) {
	info, err := os.Stat(target)
	if err != nil {
		return "", fmt.Errorf("not found: %s", target)
	}
	if !info.IsDir() {
		return target, nil
	}
	for _, name := range []string{store.ResultsFileName, store.ResultsFileName + ".zst"} {
		p := filepath.Join(target, name)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no %s in %s", store.ResultsFileName, target)
}
