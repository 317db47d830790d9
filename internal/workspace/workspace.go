// Package workspace locates the .stagehand workspace directory and
// manages its workspace.toml metadata.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	// DirName is the workspace directory created by `stagehand init`.
	DirName = ".stagehand"

	// MetaFile is the workspace metadata file inside DirName.
	MetaFile = "workspace.toml"

	// DBFile is the snapshot database inside DirName.
	DBFile = "stagehand.db"

	// LockFile guards against two engines on one workspace.
	LockFile = "stagehand.lock"

	// PipelinesFile is the optional custom pipelines file inside
	// DirName.
	PipelinesFile = "pipelines.yaml"
)

// Meta is the metadata persisted in workspace.toml. Values here
// override the global config for this workspace.
type Meta struct {
	Name            string    `toml:"name"`
	ServerURL       string    `toml:"server_url,omitempty"`
	DefaultPipeline string    `toml:"default_pipeline,omitempty"`
	ProjectID       string    `toml:"project_id,omitempty"`
	CreatedAt       time.Time `toml:"created_at"`
}

// FindDir walks up from start looking for a .stagehand directory.
// Empty start means the current directory. Returns "" when no
// workspace is found.
func FindDir(start string) string {
	dir := start
	if dir == "" {
		var err error
		if dir, err = os.Getwd(); err != nil {
			return ""
		}
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return ""
	}

	for {
		candidate := filepath.Join(dir, DirName)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// Init creates the workspace directory and writes its metadata. It
// fails if the workspace is already initialized.
func Init(dir string, meta *Meta) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create workspace directory: %w", err)
	}

	path := filepath.Join(dir, MetaFile)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("workspace already initialized at %s", path)
	}

	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now().UTC()
	}
	return Save(dir, meta)
}

// Load reads workspace.toml from the workspace directory.
func Load(dir string) (*Meta, error) {
	path := filepath.Join(dir, MetaFile)
	var meta Meta
	if _, err := toml.DecodeFile(path, &meta); err != nil {
		return nil, fmt.Errorf("failed to read workspace metadata: %w", err)
	}
	return &meta, nil
}

// Save writes workspace.toml atomically via a temp file and rename.
func Save(dir string, meta *Meta) error {
	path := filepath.Join(dir, MetaFile)
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create temp metadata file: %w", err)
	}
	if err := toml.NewEncoder(f).Encode(meta); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to encode workspace metadata: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close temp metadata file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace workspace metadata: %w", err)
	}
	return nil
}

// DBPath returns the snapshot database path for a workspace dir.
func DBPath(dir string) string {
	return filepath.Join(dir, DBFile)
}

// LockPath returns the engine lock file path for a workspace dir.
func LockPath(dir string) string {
	return filepath.Join(dir, LockFile)
}

// PipelinesPath returns the custom pipelines file path for a
// workspace dir; the file may not exist.
func PipelinesPath(dir string) string {
	return filepath.Join(dir, PipelinesFile)
}
