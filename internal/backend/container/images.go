package container

import (
	"fmt"
	"maps"
	"os"
	"slices"

	"github.com/google/go-containerregistry/pkg/name"
	"gopkg.in/yaml.v3"

	"github.com/seantiz/fnworker/internal/backend"
)

// DefaultImages maps symbolic runtime names to action runtime images.
var DefaultImages = map[string]string{
	"nodejs": "openwhisk/action-nodejs-v16",
	"python": "openwhisk/action-python-v3.11",
}

// ImageTable maps symbolic runtime names to concrete image references.
// It is immutable after construction.
type ImageTable struct {
	images map[string]string
}

// imagesFile is the on-disk layout of an image table override.
type imagesFile struct {
	Images map[string]string `yaml:"images"`
}

// NewImageTable validates every reference and returns the table.
func NewImageTable(images map[string]string) (*ImageTable, error) {
	t := &ImageTable{images: make(map[string]string, len(images))}
	for runtime, ref := range images {
		if runtime == "" {
			return nil, fmt.Errorf("image table: empty runtime name for %q", ref)
		}
		if _, err := name.ParseReference(ref); err != nil {
			return nil, fmt.Errorf("image table: runtime %q: %w", runtime, err)
		}
		t.images[runtime] = ref
	}
	return t, nil
}

// LoadImageTable returns DefaultImages merged with the overrides in the YAML
// file at path. An empty path yields the defaults.
//
//	images:
//	  nodejs: openwhisk/action-nodejs-v18
//	  rust: registry.example.com/actions/rust:1.0
func LoadImageTable(path string) (*ImageTable, error) {
	merged := maps.Clone(DefaultImages)
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read image table: %w", err)
		}
		var f imagesFile
		if err := yaml.Unmarshal(b, &f); err != nil {
			return nil, fmt.Errorf("parse image table %s: %w", path, err)
		}
		maps.Copy(merged, f.Images)
	}
	return NewImageTable(merged)
}

// Select returns the image reference for a runtime name. An unmapped name is
// an image resolution failure.
func (t *ImageTable) Select(runtime string) (string, error) {
	ref, ok := t.images[runtime]
	if !ok {
		return "", backend.Errorf(backend.KindImageNotFound, nil, fmt.Sprintf("no image mapped for runtime %q", runtime))
	}
	return ref, nil
}

// Runtimes returns the mapped runtime names, sorted.
func (t *ImageTable) Runtimes() []string {
	return slices.Sorted(maps.Keys(t.images))
}

// Images returns a copy of the table.
func (t *ImageTable) Images() map[string]string {
	return maps.Clone(t.images)
}
