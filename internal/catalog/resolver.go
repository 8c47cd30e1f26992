// Package catalog resolves the product category a camera is watching and
// imports the static reference data behind that lookup.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/your-org/storelens/internal/storage"
)

// ErrNotFound is matched by every *NotFoundError.
var ErrNotFound = errors.New("catalog entry not found")

const (
	HopCamera      = "camera"
	HopProductType = "product_type"
)

// NotFoundError names the lookup hop that had no entry.
type NotFoundError struct {
	Hop string
	Key string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no %s mapping for %q", e.Hop, e.Key)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// Store is the reference-data lookup the resolver needs.
type Store interface {
	FindCameraProductType(ctx context.Context, cameraID int) (string, error)
	FindProductCategory(ctx context.Context, productType string) (string, error)
}

// Resolver maps camera -> product type -> product category.
type Resolver struct {
	store Store
}

func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve returns the category for cameraID. A missing entry at either hop
// yields a *NotFoundError; other errors come from the store.
func (r *Resolver) Resolve(ctx context.Context, cameraID int) (string, error) {
	pt, err := r.store.FindCameraProductType(ctx, cameraID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", &NotFoundError{Hop: HopCamera, Key: fmt.Sprint(cameraID)}
		}
		return "", fmt.Errorf("lookup camera %d: %w", cameraID, err)
	}

	cat, err := r.store.FindProductCategory(ctx, pt)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", &NotFoundError{Hop: HopProductType, Key: pt}
		}
		return "", fmt.Errorf("lookup product type %q: %w", pt, err)
	}
	return cat, nil
}
