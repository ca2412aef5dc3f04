package postgres

import (
	"context"
	"fmt"
	"time"

	"timebank/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ObligationRepo implements ports.ObligationRepository.
type ObligationRepo struct {
	pool Pool
}

// NewObligationRepo creates a new ObligationRepo.
func NewObligationRepo(pool Pool) *ObligationRepo {
	return &ObligationRepo{pool: pool}
}

// Create inserts a deferred settlement debt within a transaction.
func (r *ObligationRepo) Create(ctx context.Context, tx pgx.Tx, o *domain.Obligation) error {
	query := `INSERT INTO obligations (id, session_id, learner_id, teacher_id, amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := tx.Exec(ctx, query, o.ID, o.SessionID, o.LearnerID, o.TeacherID, o.Amount, o.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert obligation: %w", err)
	}
	return nil
}

// ListPending returns a learner's unsettled obligations, oldest first.
func (r *ObligationRepo) ListPending(ctx context.Context, learnerID uuid.UUID) ([]domain.Obligation, error) {
	query := `SELECT id, session_id, learner_id, teacher_id, amount, created_at, settled_at
		FROM obligations WHERE learner_id = $1 AND settled_at IS NULL ORDER BY created_at`

	rows, err := r.pool.Query(ctx, query, learnerID)
	if err != nil {
		return nil, fmt.Errorf("list pending obligations: %w", err)
	}
	defer rows.Close()

	var obligations []domain.Obligation
	for rows.Next() {
		var o domain.Obligation
		if err := rows.Scan(&o.ID, &o.SessionID, &o.LearnerID, &o.TeacherID,
			&o.Amount, &o.CreatedAt, &o.SettledAt); err != nil {
			return nil, fmt.Errorf("scan obligation: %w", err)
		}
		obligations = append(obligations, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate obligations: %w", err)
	}
	return obligations, nil
}

// MarkSettled stamps an obligation as paid within a transaction.
func (r *ObligationRepo) MarkSettled(ctx context.Context, tx pgx.Tx, id uuid.UUID, settledAt time.Time) error {
	query := `UPDATE obligations SET settled_at = $1 WHERE id = $2 AND settled_at IS NULL`

	tag, err := tx.Exec(ctx, query, settledAt, id)
	if err != nil {
		return fmt.Errorf("mark obligation settled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("obligation not found or already settled: %s", id)
	}
	return nil
}
