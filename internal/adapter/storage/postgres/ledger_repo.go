package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"timebank/internal/core/domain"
	"timebank/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// LedgerRepo implements ports.LedgerRepository over the append-only
// ledger_entries table. Rows are inserted once and never updated.
type LedgerRepo struct {
	pool Pool
}

// NewLedgerRepo creates a new LedgerRepo.
func NewLedgerRepo(pool Pool) *LedgerRepo {
	return &LedgerRepo{pool: pool}
}

// Append inserts the transfer legs within a transaction and fills in their
// serial IDs.
func (r *LedgerRepo) Append(ctx context.Context, tx pgx.Tx, entries ...*domain.LedgerEntry) error {
	query := `INSERT INTO ledger_entries (transfer_id, account_id, counterparty_id, delta, kind, reference, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`

	for _, e := range entries {
		err := tx.QueryRow(ctx, query,
			e.TransferID, e.AccountID, e.CounterpartyID, e.Delta, e.Kind, e.Reference, e.CreatedAt,
		).Scan(&e.ID)
		if err != nil {
			return fmt.Errorf("insert ledger entry: %w", err)
		}
	}
	return nil
}

// ListByAccount returns one page of an account's entries, newest first, plus
// the total count for the same filter.
func (r *LedgerRepo) ListByAccount(ctx context.Context, params ports.LedgerListParams) ([]domain.LedgerEntry, int64, error) {
	where, args := buildLedgerFilter(params)

	var total int64
	countQuery := "SELECT COUNT(*) FROM ledger_entries " + where
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count ledger entries: %w", err)
	}

	offset := (params.Page - 1) * params.PageSize
	listQuery := `SELECT id, transfer_id, account_id, counterparty_id, delta, kind, reference, created_at
		FROM ledger_entries ` + where +
		" ORDER BY id DESC LIMIT $" + strconv.Itoa(len(args)+1) + " OFFSET $" + strconv.Itoa(len(args)+2)
	args = append(args, params.PageSize, offset)

	rows, err := r.pool.Query(ctx, listQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		if err := rows.Scan(&e.ID, &e.TransferID, &e.AccountID, &e.CounterpartyID,
			&e.Delta, &e.Kind, &e.Reference, &e.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate ledger entries: %w", err)
	}
	return entries, total, nil
}

func buildLedgerFilter(params ports.LedgerListParams) (string, []any) {
	clauses := []string{"account_id = $1"}
	args := []any{params.AccountID}

	if params.Kind != nil {
		args = append(args, *params.Kind)
		clauses = append(clauses, "kind = $"+strconv.Itoa(len(args)))
	}
	if params.From != nil {
		args = append(args, time.Unix(*params.From, 0).UTC())
		clauses = append(clauses, "created_at >= $"+strconv.Itoa(len(args)))
	}
	if params.To != nil {
		args = append(args, time.Unix(*params.To, 0).UTC())
		clauses = append(clauses, "created_at <= $"+strconv.Itoa(len(args)))
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

// GetByReference finds the first entry of the given kind carrying the
// reference.
func (r *LedgerRepo) GetByReference(ctx context.Context, kind domain.EntryKind, reference string) (*domain.LedgerEntry, error) {
	query := `SELECT id, transfer_id, account_id, counterparty_id, delta, kind, reference, created_at
		FROM ledger_entries WHERE kind = $1 AND reference = $2 ORDER BY id LIMIT 1`

	e := &domain.LedgerEntry{}
	err := r.pool.QueryRow(ctx, query, kind, reference).Scan(
		&e.ID, &e.TransferID, &e.AccountID, &e.CounterpartyID,
		&e.Delta, &e.Kind, &e.Reference, &e.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get ledger entry by reference: %w", err)
	}
	return e, nil
}

// FoldBalance replays the ledger for one account.
func (r *LedgerRepo) FoldBalance(ctx context.Context, accountID uuid.UUID) (int64, error) {
	query := `SELECT COALESCE(SUM(delta), 0) FROM ledger_entries WHERE account_id = $1`

	var sum int64
	if err := r.pool.QueryRow(ctx, query, accountID).Scan(&sum); err != nil {
		return 0, fmt.Errorf("fold ledger balance: %w", err)
	}
	return sum, nil
}

// SumByTransfer returns SUM(delta) for one transfer pair.
func (r *LedgerRepo) SumByTransfer(ctx context.Context, transferID uuid.UUID) (int64, error) {
	query := `SELECT COALESCE(SUM(delta), 0) FROM ledger_entries WHERE transfer_id = $1`

	var sum int64
	if err := r.pool.QueryRow(ctx, query, transferID).Scan(&sum); err != nil {
		return 0, fmt.Errorf("sum ledger by transfer: %w", err)
	}
	return sum, nil
}

// ListUnbalancedTransfers returns transfer ids whose legs do not sum to zero.
func (r *LedgerRepo) ListUnbalancedTransfers(ctx context.Context) ([]uuid.UUID, error) {
	query := `SELECT transfer_id FROM ledger_entries GROUP BY transfer_id HAVING SUM(delta) <> 0 ORDER BY transfer_id`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list unbalanced transfers: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan transfer id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unbalanced transfers: %w", err)
	}
	return ids, nil
}

// SumAll returns SUM(delta) across the whole ledger.
func (r *LedgerRepo) SumAll(ctx context.Context) (int64, error) {
	query := `SELECT COALESCE(SUM(delta), 0) FROM ledger_entries`

	var sum int64
	if err := r.pool.QueryRow(ctx, query).Scan(&sum); err != nil {
		return 0, fmt.Errorf("sum ledger: %w", err)
	}
	return sum, nil
}
