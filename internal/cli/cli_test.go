package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFormatDurationShort(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0:00"},
		{59*time.Second + 600*time.Millisecond, "1:00"},
		{3*time.Minute + 7*time.Second, "3:07"},
		{2*time.Hour + 5*time.Second, "2:00:05"},
	}
	for _, tt := range tests {
		if got := FormatDurationShort(tt.in); got != tt.want {
			t.Errorf("FormatDurationShort(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatScore(t *testing.T) {
	if got := FormatScore(7.25, true); got != "7.2" && got != "7.3" {
		t.Errorf("FormatScore(7.25) = %q", got)
	}
	if got := FormatScore(0, false); got != "-" {
		t.Errorf("FormatScore(unscored) = %q, want -", got)
	}
}

func TestValidateAndResolvePhoto(t *testing.T) {
	dir := t.TempDir()
	photo := filepath.Join(dir, "harbour.JPG")
	if err := os.WriteFile(photo, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	notes := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(notes, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := ValidateAndResolvePhoto(photo)
	if err != nil || got != photo {
		t.Errorf("ValidateAndResolvePhoto(photo) = (%q, %v)", got, err)
	}

	for path, want := range map[string]string{
		filepath.Join(dir, "missing.jpg"): "not found",
		dir:                               "is a directory",
		notes:                             "unsupported",
	} {
		_, err := ValidateAndResolvePhoto(path)
		if err == nil || !strings.Contains(err.Error(), want) {
			t.Errorf("ValidateAndResolvePhoto(%s) error = %v, want %q", path, err, want)
		}
	}
}

func TestValidateAndResolveDirectory(t *testing.T) {
	dir := t.TempDir()
	if got, err := ValidateAndResolveDirectory(dir); err != nil || got != dir {
		t.Errorf("ValidateAndResolveDirectory = (%q, %v)", got, err)
	}
	if _, err := ValidateAndResolveDirectory(filepath.Join(dir, "nope")); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestPromptForPath(t *testing.T) {
	tests := map[string]string{
		"  /photos/a.jpg \n":  "/photos/a.jpg",
		"'/photos/b c.jpg'\n": "/photos/b c.jpg",
		"/no/newline.png":     "/no/newline.png",
		"":                    "",
	}
	for in, want := range tests {
		if got := PromptForPath(strings.NewReader(in), "Photo"); got != want {
			t.Errorf("PromptForPath(%q) = %q, want %q", in, got, want)
		}
	}
}
