package face

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// Store persists embeddings in Postgres using pgvector. The unique index on
// face_embeddings.student_id makes re-registration a replace.
type Store struct {
	db *sql.DB
}

// NewStore creates an embedding store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Upsert writes an identity's embedding, replacing any prior one.
func (s *Store) Upsert(ctx context.Context, studentID string, vec []float32) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO face_embeddings (id, student_id, embedding, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (student_id) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			updated_at = EXCLUDED.updated_at
	`, uuid.NewString(), studentID, pgvector.NewVector(vec), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert embedding: %w", err)
	}
	return nil
}

// All returns every active enrollment.
func (s *Store) All(ctx context.Context) ([]Enrollment, error) {
	return s.query(ctx, `
		SELECT student_id, embedding FROM face_embeddings
	`)
}

// ByClasses returns enrollments for students in the given classes.
func (s *Store) ByClasses(ctx context.Context, classIDs []string) ([]Enrollment, error) {
	return s.query(ctx, `
		SELECT fe.student_id, fe.embedding
		FROM face_embeddings fe
		JOIN students st ON st.id = fe.student_id
		WHERE st.class_id = ANY($1)
	`, classIDs)
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]Enrollment, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query embeddings: %w", err)
	}
	defer rows.Close()

	var enrollments []Enrollment
	for rows.Next() {
		var e Enrollment
		var vec pgvector.Vector
		if err := rows.Scan(&e.StudentID, &vec); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		e.Vector = vec.Slice()
		enrollments = append(enrollments, e)
	}
	return enrollments, rows.Err()
}
