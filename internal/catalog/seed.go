package catalog

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/your-org/storelens/internal/models"
)

// Seed is the reference data file format.
type Seed struct {
	ProductTypes []models.ProductType   `yaml:"product_types"`
	Cameras      []models.CameraMapping `yaml:"cameras"`
}

// LoadSeed reads and validates a seed file.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return ParseSeed(data)
}

func ParseSeed(data []byte) (*Seed, error) {
	var s Seed
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate rejects empty keys and duplicates. Cameras may reference product
// types that are not in the file; those resolve as missing until added.
func (s *Seed) Validate() error {
	types := make(map[string]bool, len(s.ProductTypes))
	for i, pt := range s.ProductTypes {
		if pt.ProductType == "" || pt.Category == "" {
			return fmt.Errorf("product_types[%d]: product_type and category are required", i)
		}
		if types[pt.ProductType] {
			return fmt.Errorf("product_types: duplicate %q", pt.ProductType)
		}
		types[pt.ProductType] = true
	}
	cams := make(map[int]bool, len(s.Cameras))
	for i, c := range s.Cameras {
		if c.ProductType == "" {
			return fmt.Errorf("cameras[%d]: product_type is required", i)
		}
		if cams[c.CameraID] {
			return fmt.Errorf("cameras: duplicate camera_id %d", c.CameraID)
		}
		cams[c.CameraID] = true
	}
	return nil
}

// Writer persists reference data.
type Writer interface {
	ReplaceCatalog(ctx context.Context, types []models.ProductType, cameras []models.CameraMapping) error
}

// Import replaces the stored reference data with the seed through w.
func Import(ctx context.Context, w Writer, s *Seed) error {
	if err := w.ReplaceCatalog(ctx, s.ProductTypes, s.Cameras); err != nil {
		return fmt.Errorf("import catalog: %w", err)
	}
	return nil
}

// Dangling lists camera mappings whose product type is not defined in s.
func (s *Seed) Dangling() []models.CameraMapping {
	types := make(map[string]bool, len(s.ProductTypes))
	for _, pt := range s.ProductTypes {
		types[pt.ProductType] = true
	}
	var out []models.CameraMapping
	for _, c := range s.Cameras {
		if !types[c.ProductType] {
			out = append(out, c)
		}
	}
	return out
}
