package main

import (
	"fmt"
	"os"

	"github.com/fpang/painting-studio/internal/filehandler"
	"github.com/spf13/cobra"
)

var gridOutFlag string

var gridCmd = &cobra.Command{
	Use:   "grid <session-dir|image>",
	Short: "Draw a transfer grid over stage images",
	Long: `Draw a proportional transfer grid over an image, or over every accepted stage
image (v*_final.*) of a session directory. Gridded copies are written next to
the input with a _grid suffix. Grid geometry comes from the [grid] config
section.`,
	Args: cobra.ExactArgs(1),
	RunE: runGrid,
}

func init() {
	gridCmd.Flags().StringVar(&gridOutFlag, "out", "", "Output file when gridding a single image")
}

func runGrid(cmd *cobra.Command, args []string) error {
	paths, err := gridPath(args[0], gridOutFlag)
	if err != nil {
		return err
	}
	for _, p := range paths {
		fmt.Fprintln(cmd.OutOrStdout(), p)
	}
	return nil
}

func gridPath(path, out string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("not found: %s", path)
	}
	opts := cfg.GridOptions()
	if info.IsDir() {
		if out != "" {
			return nil, fmt.Errorf("--out applies to a single image, not a directory")
		}
		return filehandler.GridSession(path, opts)
	}
	written, err := filehandler.GridFile(path, out, opts)
	if err != nil {
		return nil, err
	}
	return []string{written}, nil
}
