package predict

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// TransformFile is the shared feature transform inside a models directory.
const TransformFile = "transform.json"

// LoadBundles reads every *.json bundle in dir plus the optional shared
// transform. Bundles are returned sorted by name.
func LoadBundles(dir string) ([]*Bundle, *FeatureTransform, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("read models dir: %w", err)
	}

	var bundles []*Bundle
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != ".json" || name == TransformFile {
			continue
		}
		b, err := LoadBundle(filepath.Join(dir, name))
		if err != nil {
			return nil, nil, err
		}
		bundles = append(bundles, b)
	}
	sort.Slice(bundles, func(i, j int) bool { return bundles[i].Name < bundles[j].Name })

	transform, err := LoadTransform(filepath.Join(dir, TransformFile))
	if err != nil {
		return nil, nil, err
	}
	return bundles, transform, nil
}

// LoadBundle decodes and validates one bundle file. A bundle without a name
// takes the file name.
func LoadBundle(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bundle: %w", err)
	}
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decode bundle %s: %w", filepath.Base(path), err)
	}
	if b.Name == "" {
		b.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return &b, nil
}

// LoadTransform reads the shared feature transform. A missing file yields a
// nil transform.
func LoadTransform(path string) (*FeatureTransform, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read transform: %w", err)
	}
	var t FeatureTransform
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode transform: %w", err)
	}
	return &t, nil
}
