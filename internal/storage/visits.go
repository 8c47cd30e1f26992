package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/your-org/storelens/internal/models"
)

// --- Visits ---

const visitColumns = `id, task_id, face_index, captured_at, camera_id, product_category,
	gender, age_low, age_high, primary_emotion, COALESCE(image_url, ''), created_at`

// InsertVisit writes v. It returns false when a record for the same
// (task, face) already exists, which happens when a task is redelivered.
func (s *PostgresStore) InsertVisit(ctx context.Context, v *models.VisitRecord) (bool, error) {
	if v.ID == 0 {
		return false, errors.New("insert visit: record has no id")
	}
	var imageURL *string
	if v.ImageURL != "" {
		imageURL = &v.ImageURL
	}

	err := s.pool.QueryRow(ctx,
		`INSERT INTO visit_records (id, task_id, face_index, captured_at, camera_id, product_category,
			gender, age_low, age_high, primary_emotion, image_url)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (task_id, face_index) DO NOTHING
		 RETURNING created_at`,
		v.ID, v.TaskID, v.FaceIndex, v.CapturedAt, v.CameraID, v.ProductCategory,
		string(v.Gender), v.AgeRange.Low, v.AgeRange.High, v.PrimaryEmotion, imageURL,
	).Scan(&v.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, wrap("insert visit", err)
	}
	return true, nil
}

// GetVisit returns a visit by id, or nil if it does not exist.
func (s *PostgresStore) GetVisit(ctx context.Context, id int64) (*models.VisitRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+visitColumns+` FROM visit_records WHERE id = $1`, id)
	v, err := scanVisit(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("get visit", err)
	}
	return v, nil
}

// FindVisit returns the visit written for one face of a task, or nil.
func (s *PostgresStore) FindVisit(ctx context.Context, taskID uuid.UUID, faceIndex int) (*models.VisitRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+visitColumns+` FROM visit_records WHERE task_id = $1 AND face_index = $2`, taskID, faceIndex)
	v, err := scanVisit(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("find visit", err)
	}
	return v, nil
}

// ListVisits returns one page of visits, newest first, and the total
// number of matches.
func (s *PostgresStore) ListVisits(ctx context.Context, f models.VisitFilter) ([]models.VisitRecord, int, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Limit > 500 {
		f.Limit = 500
	}

	var where []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.CameraID != nil {
		add("camera_id = $%d", *f.CameraID)
	}
	if f.ProductCategory != "" {
		add("product_category = $%d", f.ProductCategory)
	}
	if f.Gender != "" {
		add("gender = $%d", string(f.Gender))
	}
	if !f.From.IsZero() {
		add("captured_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("captured_at < $%d", f.To)
	}

	clause := ""
	if len(where) > 0 {
		clause = "WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM visit_records "+clause, args...).Scan(&total); err != nil {
		return nil, 0, wrap("count visits", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM visit_records %s ORDER BY captured_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		visitColumns, clause, len(args)+1, len(args)+2)
	rows, err := s.pool.Query(ctx, query, append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, 0, wrap("query visits", err)
	}
	defer rows.Close()

	visits := []models.VisitRecord{}
	for rows.Next() {
		v, err := scanVisit(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan visit: %w", err)
		}
		visits = append(visits, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, wrap("iterate visits", err)
	}
	return visits, total, nil
}

func scanVisit(row pgx.Row) (*models.VisitRecord, error) {
	var v models.VisitRecord
	var gender string
	err := row.Scan(&v.ID, &v.TaskID, &v.FaceIndex, &v.CapturedAt, &v.CameraID, &v.ProductCategory,
		&gender, &v.AgeRange.Low, &v.AgeRange.High, &v.PrimaryEmotion, &v.ImageURL, &v.CreatedAt)
	if err != nil {
		return nil, err
	}
	v.Gender = models.Gender(gender)
	v.CapturedAt = v.CapturedAt.UTC()
	return &v, nil
}
