package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/tap-attendance-api/internal/models"
)

// ClassRepository reads the class registry table.
type ClassRepository struct {
	db *sqlx.DB
}

// NewClassRepository constructs the repository.
func NewClassRepository(db *sqlx.DB) *ClassRepository {
	return &ClassRepository{db: db}
}

const classColumns = `id, name, session_start, duration_seconds, late_threshold_seconds, active, created_at`

// ListActive returns every active class ordered by scheduled start then name.
func (r *ClassRepository) ListActive(ctx context.Context) ([]models.Class, error) {
	query := `SELECT ` + classColumns + ` FROM classes WHERE active = TRUE ORDER BY session_start, name`
	var classes []models.Class
	if err := r.db.SelectContext(ctx, &classes, query); err != nil {
		return nil, fmt.Errorf("list classes: %w", err)
	}
	return classes, nil
}
