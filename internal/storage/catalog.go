package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/your-org/storelens/internal/models"
)

// --- Reference data ---

// FindCameraProductType returns the product type shelved in front of a
// camera, or ErrNotFound.
func (s *PostgresStore) FindCameraProductType(ctx context.Context, cameraID int) (string, error) {
	var pt string
	err := s.pool.QueryRow(ctx,
		`SELECT product_type FROM camera_product_types WHERE camera_id = $1`, cameraID).Scan(&pt)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("camera %d: %w", cameraID, ErrNotFound)
	}
	if err != nil {
		return "", wrap("find camera product type", err)
	}
	return pt, nil
}

// FindProductCategory returns the category of a product type, or ErrNotFound.
func (s *PostgresStore) FindProductCategory(ctx context.Context, productType string) (string, error) {
	var cat string
	err := s.pool.QueryRow(ctx,
		`SELECT product_category FROM product_types WHERE product_type = $1`, productType).Scan(&cat)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("product type %q: %w", productType, ErrNotFound)
	}
	if err != nil {
		return "", wrap("find product category", err)
	}
	return cat, nil
}

// ReplaceCatalog makes the reference tables match types and cameras in one
// transaction. Rows absent from the arguments are deleted.
func (s *PostgresStore) ReplaceCatalog(ctx context.Context, types []models.ProductType, cameras []models.CameraMapping) error {
	typeNames := make([]string, 0, len(types))
	for _, pt := range types {
		typeNames = append(typeNames, pt.ProductType)
	}
	cameraIDs := make([]int32, 0, len(cameras))
	for _, c := range cameras {
		cameraIDs = append(cameraIDs, int32(c.CameraID))
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		batch.Queue(`DELETE FROM camera_product_types WHERE NOT (camera_id = ANY($1::int[]))`, cameraIDs)
		batch.Queue(`DELETE FROM product_types WHERE NOT (product_type = ANY($1::text[]))`, typeNames)
		for _, pt := range types {
			batch.Queue(`INSERT INTO product_types (product_type, product_category) VALUES ($1, $2)
				ON CONFLICT (product_type) DO UPDATE SET product_category = EXCLUDED.product_category`,
				pt.ProductType, pt.Category)
		}
		for _, c := range cameras {
			batch.Queue(`INSERT INTO camera_product_types (camera_id, product_type) VALUES ($1, $2)
				ON CONFLICT (camera_id) DO UPDATE SET product_type = EXCLUDED.product_type`,
				c.CameraID, c.ProductType)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return wrap("replace catalog", err)
		}
		return nil
	})
}

func (s *PostgresStore) ListProductTypes(ctx context.Context) ([]models.ProductType, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT product_type, product_category FROM product_types ORDER BY product_type`)
	if err != nil {
		return nil, wrap("list product types", err)
	}
	types, err := pgx.CollectRows(rows, pgx.RowToStructByName[models.ProductType])
	if err != nil {
		return nil, fmt.Errorf("scan product types: %w", err)
	}
	return types, nil
}

func (s *PostgresStore) ListCameraMappings(ctx context.Context) ([]models.CameraMapping, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT camera_id, product_type FROM camera_product_types ORDER BY camera_id`)
	if err != nil {
		return nil, wrap("list camera mappings", err)
	}
	cams, err := pgx.CollectRows(rows, pgx.RowToStructByName[models.CameraMapping])
	if err != nil {
		return nil, fmt.Errorf("scan camera mappings: %w", err)
	}
	return cams, nil
}
