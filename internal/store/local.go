package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"sync"
	"time"

	"github.com/fpang/painting-studio/internal/filehandler"
	"github.com/fpang/painting-studio/internal/pipeline"
	"github.com/gofrs/flock"
	"github.com/rs/zerolog/log"
)

const (
	sessionTimeLayout = "20060102_150405"
	lockFileName      = ".lock"
)

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// LocalSession is a run's output directory. It holds an exclusive file lock
// while open, so two processes never write the same session. Methods are
// safe for concurrent use.
type LocalSession struct {
	Dir string

	keepAttempts bool
	lock         *flock.Flock
	mu           sync.Mutex
	written      []string
}

// OpenSession creates <root>/<name>_<YYYYmmdd_HHMMSS> and locks it. A
// numeric suffix is added when that directory already exists. keepAttempts
// controls whether every candidate is written or only accepted images.
func OpenSession(root, name string, startedAt time.Time, keepAttempts bool) (*LocalSession, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	base := SanitizeName(name) + "_" + startedAt.Format(sessionTimeLayout)
	dir := filepath.Join(root, base)
	for n := 2; ; n++ {
		err := os.Mkdir(dir, 0o755)
		if err == nil {
			break
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create session directory: %w", err)
		}
		dir = filepath.Join(root, fmt.Sprintf("%s_%d", base, n))
	}

	lock := flock.New(filepath.Join(dir, lockFileName))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock session: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("session %s is locked by another process", dir)
	}

	log.Debug().Str("dir", dir).Msg("Session directory opened")
	return &LocalSession{Dir: dir, keepAttempts: keepAttempts, lock: lock}, nil
}

// SanitizeName makes name safe for use in a directory name.
func SanitizeName(name string) string {
	clean := unsafeNameChars.ReplaceAllString(name, "_")
	if clean == "" || clean == "." || clean == ".." {
		return "run"
	}
	return clean
}

// OriginalFileName is the file the source photo is copied to.
func OriginalFileName(mimeType string) string {
	return "00_original" + filehandler.ExtensionForMIME(mimeType)
}

// AttemptFileName is the file a stage candidate is written to.
func AttemptFileName(stage, attempt int, mimeType string) string {
	return fmt.Sprintf("v%02d_attempt%d%s", stage, attempt, filehandler.ExtensionForMIME(mimeType))
}

// FinalFileName is the file a stage's accepted image is written to.
func FinalFileName(stage int, mimeType string) string {
	return fmt.Sprintf("v%02d_final%s", stage, filehandler.ExtensionForMIME(mimeType))
}

// SaveOriginal copies the source photo into the session.
func (s *LocalSession) SaveOriginal(src pipeline.SourcePhoto) error {
	return s.writeFile(OriginalFileName(src.Image.MIMEType), src.Image.Data)
}

// SaveStage writes the candidates of a stage and, when the stage was
// accepted, its final image. It is also used for the partial result of a
// failed stage, which has no final image.
func (s *LocalSession) SaveStage(result *pipeline.StageResult) error {
	if s.keepAttempts {
		for _, a := range result.Attempts {
			if a.Image == nil || len(a.Image.Data) == 0 {
				continue
			}
			if err := s.writeFile(AttemptFileName(result.Index, a.Number, a.Image.MIMEType), a.Image.Data); err != nil {
				return err
			}
		}
	}
	if img := result.AcceptedImage(); img != nil && result.State.Done() {
		if err := s.writeFile(FinalFileName(result.Index, img.MIMEType), img.Data); err != nil {
			return err
		}
	}
	return nil
}

// SaveResults writes results.json. The file is replaced atomically so a
// crash never leaves a truncated document.
func (s *LocalSession) SaveResults(res *Results) error {
	data, err := EncodeResults(res, false)
	if err != nil {
		return err
	}
	return s.writeFile(ResultsFileName, data)
}

// Files returns the names of the files written so far, sorted.
func (s *LocalSession) Files() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	files := slices.Clone(s.written)
	slices.Sort(files)
	return files
}

// Close releases the session lock and removes the lock file.
func (s *LocalSession) Close() error {
	if err := s.lock.Unlock(); err != nil {
		return fmt.Errorf("unlock session: %w", err)
	}
	if err := os.Remove(s.lock.Path()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove lock file: %w", err)
	}
	return nil
}

func (s *LocalSession) writeFile(name string, data []byte) error {
	path := filepath.Join(s.Dir, name)
	tmp, err := os.CreateTemp(s.Dir, "."+name+".*")
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename %s: %w", name, err)
	}

	s.mu.Lock()
	if !slices.Contains(s.written, name) {
		s.written = append(s.written, name)
	}
	s.mu.Unlock()

	log.Debug().Str("file", path).Int("bytes", len(data)).Msg("Session file written")
	return nil
}
