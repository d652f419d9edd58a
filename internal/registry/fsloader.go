package registry

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/nkulkarni/authgate/internal/rules"
)

// FSLoader reads rule-set artifacts from a directory, one YAML file per
// version named {key}_v{version}_{country}.yaml. It implements the same
// contract an object-storage loader would.
type FSLoader struct {
	dir string
}

// NewFSLoader creates a loader rooted at dir.
func NewFSLoader(dir string) *FSLoader {
	return &FSLoader{dir: dir}
}

// Load reads and decodes one artifact. A missing file maps to ErrNotFound,
// any other read failure to ErrStorageUnavailable.
func (l *FSLoader) Load(key string, version int64, country string) (*rules.Artifact, error) {
	if country == "" {
		country = FallbackCountry
	}
	path := filepath.Join(l.dir, fmt.Sprintf("%s_v%d_%s.yaml", key, version, country))

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w: %v", path, ErrStorageUnavailable, err)
	}

	var art rules.Artifact
	if err := yaml.Unmarshal(data, &art); err != nil {
		return nil, fmt.Errorf("parse artifact %s: %w", path, err)
	}
	if art.Key == "" {
		art.Key = key
	}
	if art.Version == 0 {
		art.Version = version
	}
	if art.Country == "" {
		art.Country = country
	}
	return &art, nil
}

// Accessible reports whether the artifact directory can be listed.
func (l *FSLoader) Accessible() bool {
	info, err := os.Stat(l.dir)
	return err == nil && info.IsDir()
}
