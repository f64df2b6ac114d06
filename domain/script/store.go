package script

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"visitly-go/domain/target"
)

// yamlManifest is the YAML structure for per-domain overrides.
type yamlManifest struct {
	File    string   `yaml:"file"`
	Mode    string   `yaml:"mode"`
	Entry   string   `yaml:"entry"`
	Overlay *bool    `yaml:"overlay"`
	Timeout duration `yaml:"timeout"`
}

// duration is a wrapper for time.Duration that handles YAML parsing.
type duration time.Duration

func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = duration(parsed)
	return nil
}

// StoreConfig holds the lookup defaults for a Store.
type StoreConfig struct {
	// Dir is the script root; programs live at <Dir>/<root-domain>/<FileName>.
	Dir string

	// FileName is the program file name.
	FileName string

	// Mode is the default injection contract.
	Mode Mode

	// EntryPoint is the default async entry point.
	EntryPoint string

	// Overlay enables the status overlay by default.
	Overlay bool
}

// DefaultStoreConfig returns the default lookup configuration.
func DefaultStoreConfig() *StoreConfig {
	return &StoreConfig{
		Dir:        "scripts",
		FileName:   DefaultFileName,
		Mode:       ModeAuto,
		EntryPoint: DefaultEntryPoint,
		Overlay:    true,
	}
}

// Store resolves programs from a directory tree. Nothing is cached, so edits
// take effect on the next attempt.
type Store struct {
	config *StoreConfig
	fsys   fs.FS
	logger *slog.Logger
}

// NewStore creates a store reading from config.Dir on disk.
func NewStore(config *StoreConfig, logger *slog.Logger) *Store {
	if config == nil {
		config = DefaultStoreConfig()
	}
	return NewStoreFS(os.DirFS(config.Dir), config, logger)
}

// NewStoreFS creates a store reading from fsys, whose root plays the role of config.Dir.
func NewStoreFS(fsys fs.FS, config *StoreConfig, logger *slog.Logger) *Store {
	if config == nil {
		config = DefaultStoreConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		config: config,
		fsys:   fsys,
		logger: logger.With("component", "script_store"),
	}
}

// Resolve returns the program for t's root domain, or ErrNotFound.
func (s *Store) Resolve(t target.Target) (*Program, error) {
	domain := t.RootDomain
	if !validDomainDir(domain) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, domain)
	}

	p := &Program{
		Domain:     domain,
		Mode:       s.config.Mode,
		EntryPoint: s.config.EntryPoint,
		Overlay:    s.config.Overlay,
	}
	if p.Mode == "" {
		p.Mode = ModeAuto
	}
	if p.EntryPoint == "" {
		p.EntryPoint = DefaultEntryPoint
	}
	fileName := s.config.FileName
	if fileName == "" {
		fileName = DefaultFileName
	}

	m, err := s.loadManifest(domain)
	if err != nil {
		return nil, err
	}
	if m != nil {
		if m.File != "" {
			fileName = m.File
		}
		if m.Mode != "" {
			mode, err := ParseMode(m.Mode)
			if err != nil {
				return nil, fmt.Errorf("invalid manifest for %s: %w", domain, err)
			}
			p.Mode = mode
		}
		if m.Entry != "" {
			p.EntryPoint = m.Entry
		}
		if m.Overlay != nil {
			p.Overlay = *m.Overlay
		}
		p.Timeout = time.Duration(m.Timeout)
	}

	if !fs.ValidPath(fileName) || strings.Contains(fileName, "/") {
		return nil, fmt.Errorf("invalid script file name %q for %s", fileName, domain)
	}

	path := domain + "/" + fileName
	data, err := fs.ReadFile(s.fsys, path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("Script not found", "domain", domain, "path", s.displayPath(path))
			return nil, fmt.Errorf("%w: %s", ErrNotFound, domain)
		}
		return nil, fmt.Errorf("failed to read script %s: %w", s.displayPath(path), err)
	}

	p.Path = s.displayPath(path)
	p.Source = string(data)
	return p, nil
}

// loadManifest reads <domain>/manifest.yaml. A missing manifest yields nil.
func (s *Store) loadManifest(domain string) (*yamlManifest, error) {
	path := domain + "/" + ManifestFileName
	data, err := fs.ReadFile(s.fsys, path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read manifest %s: %w", s.displayPath(path), err)
	}

	var m yamlManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", s.displayPath(path), err)
	}
	return &m, nil
}

func (s *Store) displayPath(rel string) string {
	if s.config.Dir == "" {
		return rel
	}
	return filepath.Join(s.config.Dir, filepath.FromSlash(rel))
}

// validDomainDir rejects names that would escape the script root.
func validDomainDir(domain string) bool {
	if domain == "" || domain == "." || domain == ".." {
		return false
	}
	return !strings.ContainsAny(domain, `/\`) && fs.ValidPath(domain)
}
