package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/danmuck/beaconctl/internal/catalog"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// CatalogFile is the on-disk target catalog shape.
type CatalogFile struct {
	Targets []catalog.Target `toml:"targets" yaml:"targets"`
}

// LoadCatalog reads a TOML or YAML catalog (by extension) and validates it.
func LoadCatalog(path string) (*catalog.Catalog, error) {
	var file CatalogFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := loadYaml(path, &file); err != nil {
			return nil, err
		}
	default:
		if err := loadToml(path, &file); err != nil {
			return nil, err
		}
	}
	if err := ValidateCatalog(file); err != nil {
		return nil, fmt.Errorf("config catalog invalid (%s): %w", path, err)
	}
	return catalog.New(file.Targets)
}

// EncodeCatalog renders targets as TOML in the LoadCatalog shape.
func EncodeCatalog(targets []catalog.Target) ([]byte, error) {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	enc.SetIndentTables(true)
	if err := enc.Encode(CatalogFile{Targets: targets}); err != nil {
		return nil, fmt.Errorf("config catalog encode failed: %w", err)
	}
	return buf.Bytes(), nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func loadYaml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateCatalog(file CatalogFile) error {
	if len(file.Targets) == 0 {
		return fmt.Errorf("catalog has no targets")
	}
	hasWildcard := false
	for i, t := range file.Targets {
		if err := ValidateTarget(t); err != nil {
			return fmt.Errorf("target[%d] invalid: %w", i, err)
		}
		if catalog.NormalizeCode(t.Code) == catalog.Wildcard {
			hasWildcard = true
		}
	}
	if !hasWildcard {
		return fmt.Errorf("catalog missing %s target", catalog.Wildcard)
	}
	return nil
}

func ValidateTarget(t catalog.Target) error {
	if strings.TrimSpace(t.Code) == "" {
		return fmt.Errorf("code is required")
	}
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("target_name is required")
	}
	return nil
}
