// Package setup handles inboxd data directory initialization.
package setup

import (
	"fmt"
	"os"
	"path/filepath"

	yamlv3 "gopkg.in/yaml.v3"

	"inboxd/internal/model"
	atomicyaml "inboxd/internal/yaml"
)

// ConfigFileName is the config file written into the data directory.
const ConfigFileName = "inboxd.yaml"

// SeedFileName is the optional entity seed file the daemon loads on request.
const SeedFileName = "entities.yaml"

// Run initializes the inboxd data directory: scaffolding, the default config,
// and a sample seed file. Fails if the directory was already initialized.
func Run(dataDir string) error {
	absDir, err := filepath.Abs(dataDir)
	if err != nil {
		return fmt.Errorf("resolve data dir: %w", err)
	}

	configPath := filepath.Join(absDir, ConfigFileName)
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("%s already exists", configPath)
	}

	for _, d := range []string{"logs", "locks"} {
		if err := os.MkdirAll(filepath.Join(absDir, d), 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", d, err)
		}
	}

	if err := atomicyaml.AtomicWrite(configPath, model.DefaultConfig()); err != nil {
		return fmt.Errorf("write %s: %w", ConfigFileName, err)
	}

	seed := SeedFile{
		SchemaVersion: 1,
		Entities: []SeedEntity{
			{ID: "ent_1700000000_00000001", State: model.EntityState{Label: "inbox"}},
		},
	}
	if err := atomicyaml.AtomicWrite(filepath.Join(absDir, SeedFileName), seed); err != nil {
		return fmt.Errorf("write %s: %w", SeedFileName, err)
	}

	return nil
}

// SeedFile is the on-disk format for bulk-loading entities.
type SeedFile struct {
	SchemaVersion int          `yaml:"schema_version"`
	Entities      []SeedEntity `yaml:"entities"`
}

// SeedEntity is one entity to load into the projection store.
type SeedEntity struct {
	ID    string            `yaml:"id"`
	State model.EntityState `yaml:"state"`
}

// LoadSeeds parses a seed file.
func LoadSeeds(path string) (*SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}

	var sf SeedFile
	if err := yamlv3.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}

	for i, e := range sf.Entities {
		if e.ID == "" {
			return nil, fmt.Errorf("seed entity %d: missing id", i)
		}
	}
	return &sf, nil
}
