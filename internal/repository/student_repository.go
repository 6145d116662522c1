package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/tap-attendance-api/internal/models"
)

// StudentRepository is the read side of the student directory.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs the repository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

const studentColumns = `id, name, card_id, class_id, roll_number, parent_name, parent_email, parent_phone, active, created_at`

// FindByCardID resolves an active student by card id. A miss wraps sql.ErrNoRows.
func (r *StudentRepository) FindByCardID(ctx context.Context, cardID string) (*models.Student, error) {
	query := `SELECT ` + studentColumns + ` FROM students WHERE card_id = $1 AND active = TRUE`
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, cardID); err != nil {
		return nil, fmt.Errorf("find student by card: %w", err)
	}
	return &student, nil
}

// FindByID fetches an active student. A miss wraps sql.ErrNoRows.
func (r *StudentRepository) FindByID(ctx context.Context, id string) (*models.Student, error) {
	query := `SELECT ` + studentColumns + ` FROM students WHERE id = $1 AND active = TRUE`
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, id); err != nil {
		return nil, fmt.Errorf("find student: %w", err)
	}
	return &student, nil
}

// ListByClass returns the active roster of a class ordered by roll number.
func (r *StudentRepository) ListByClass(ctx context.Context, classID string) ([]models.Student, error) {
	query := `SELECT ` + studentColumns + ` FROM students WHERE class_id = $1 AND active = TRUE ORDER BY roll_number, name`
	var students []models.Student
	if err := r.db.SelectContext(ctx, &students, query, classID); err != nil {
		return nil, fmt.Errorf("list students by class: %w", err)
	}
	return students, nil
}
