package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/fpang/painting-studio/internal/filehandler"
	"github.com/ncruces/zenity"
	"github.com/rs/zerolog/log"
)

// ErrCanceled is returned when the user dismisses the photo picker.
var ErrCanceled = errors.New("photo selection canceled")

// PickPhoto opens a native file dialog restricted to supported photos. When
// no dialog can be shown it falls back to PromptForPath on stdin.
func PickPhoto() (string, error) {
	var patterns []string
	for _, ext := range slices.Sorted(maps.Keys(filehandler.SupportedImageExtensions)) {
		patterns = append(patterns, "*"+ext)
	}

	selected, err := zenity.SelectFile(
		zenity.Title("Select a source photo"),
		zenity.FileFilters{{Name: "Photos", Patterns: patterns}},
	)
	if err == nil {
		return selected, nil
	}
	if errors.Is(err, zenity.ErrCanceled) {
		return "", ErrCanceled
	}

	log.Warn().Err(err).Msg("File picker unavailable, reading path from stdin")
	path := PromptForPath(os.Stdin, "Photo path")
	if path == "" {
		return "", ErrCanceled
	}
	return path, nil
}

// PromptForPath prints label and reads one line from r. It returns the
// trimmed input, or "" when nothing was entered.
func PromptForPath(r io.Reader, label string) string {
	fmt.Printf("%s: ", label)

	input, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && input == "" {
		log.Warn().Err(err).Msg("Failed to read input")
		return ""
	}
	return strings.Trim(strings.TrimSpace(input), `"'`)
}
