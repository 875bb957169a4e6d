package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ConfigChangeEvent is emitted when a FileSource detects a change, mirroring
// the teacher's config.ConfigChangeEvent shape.
type ConfigChangeEvent struct {
	Source  string
	OldHash string
	NewHash string
	Config  *Config
}

// FileSource loads Config from a YAML file on disk, grounded on the
// teacher's config/source_file.go (read+hash+parse), trimmed of the
// ApplicationConfig/WorkflowConfig multi-document merge this domain has no
// use for.
type FileSource struct {
	path string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

func (s *FileSource) Load(_ context.Context) (*Config, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("file source: read %s: %w", s.path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("file source: parse %s: %w", s.path, err)
	}
	return cfg, nil
}

func (s *FileSource) Hash(_ context.Context) (string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return "", fmt.Errorf("file source: read %s: %w", s.path, err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func (s *FileSource) Name() string { return "file:" + s.path }
func (s *FileSource) Path() string { return s.path }
