package target

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Source provides the target list for one pass.
type Source interface {
	Load() ([]Target, error)
}

// FileSource reads a newline-delimited target list from disk.
// The file is re-read on every Load so edits apply to the next pass.
type FileSource struct {
	path   string
	logger *slog.Logger
}

// NewFileSource creates a target source backed by the file at path.
func NewFileSource(path string, logger *slog.Logger) *FileSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileSource{path: path, logger: logger}
}

// Load reads and parses the target list.
func (s *FileSource) Load() ([]Target, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open target list %s: %w", s.path, err)
	}
	defer f.Close()

	targets, err := ReadList(f, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to read target list %s: %w", s.path, err)
	}

	s.logger.Debug("Target list loaded", "path", s.path, "count", len(targets))
	return targets, nil
}

// ReadList parses one target per line. Blank lines and lines starting with
// '#' are ignored; unparsable lines are logged and dropped.
func ReadList(r io.Reader, logger *slog.Logger) ([]Target, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var targets []Target
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		t, err := Parse(line)
		if err != nil {
			logger.Warn("Ignoring invalid target", "line", lineNo, "error", err)
			continue
		}
		targets = append(targets, t)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return targets, nil
}

// StaticSource serves a fixed target list.
type StaticSource []Target

// Load returns a copy of the list.
func (s StaticSource) Load() ([]Target, error) {
	out := make([]Target, len(s))
	copy(out, s)
	return out, nil
}
