package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"pdv-haver/internal/domain"
)

type ReceiptsFilter struct {
	ObligationID *string
	Method       *string
	PeriodStart  *time.Time
	PeriodEnd    *time.Time
}

type ReceiptRepository struct {
	q       querier
	dialect Dialect
}

const receiptColumns = `id, obligation_id, amount, method, note, created_at`

func scanReceipt(s rowScanner) (*domain.Receipt, error) {
	var (
		rc        domain.Receipt
		createdAt sqlTime
	)
	if err := s.Scan(&rc.ID, &rc.ObligationID, &rc.Amount, &rc.Method, &rc.Note, &createdAt); err != nil {
		return nil, err
	}
	rc.CreatedAt = createdAt.Time
	return &rc, nil
}

// Record appends a receipt against obligationID. Balance rules are the
// caller's concern; the only check here is that the obligation exists.
func (r *ReceiptRepository) Record(ctx context.Context, obligationID string, amount decimal.Decimal, method, note string) (*domain.Receipt, error) {
	rc := &domain.Receipt{
		ID:           uuid.NewString(),
		ObligationID: obligationID,
		Amount:       domain.RoundMoney(amount),
		Method:       method,
		Note:         note,
		CreatedAt:    time.Now().UTC(),
	}

	query := r.dialect.rebind(`INSERT INTO receipts (` + receiptColumns + `) VALUES (?, ?, ?, ?, ?, ?)`)
	_, err := r.q.ExecContext(ctx, query,
		rc.ID,
		rc.ObligationID,
		rc.Amount.StringFixed(domain.MoneyPlaces),
		rc.Method,
		rc.Note,
		rc.CreatedAt,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, domain.NotFound("obligation %s not found", obligationID)
		}
		return nil, domain.Storage("failed to insert receipt", err)
	}
	return rc, nil
}

func (r *ReceiptRepository) Get(ctx context.Context, id string) (*domain.Receipt, error) {
	query := r.dialect.rebind(`SELECT ` + receiptColumns + ` FROM receipts WHERE id = ?`)

	rc, err := scanReceipt(r.q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound("receipt %s not found", id)
	}
	if err != nil {
		return nil, domain.Storage("failed to load receipt", err)
	}
	return rc, nil
}

func (r *ReceiptRepository) ListByObligation(ctx context.Context, obligationID string) ([]domain.Receipt, error) {
	return r.List(ctx, ReceiptsFilter{ObligationID: &obligationID})
}

func (r *ReceiptRepository) List(ctx context.Context, f ReceiptsFilter) ([]domain.Receipt, error) {
	where, args := receiptConditions(f)
	query := `SELECT ` + receiptColumns + ` FROM receipts WHERE ` + strings.Join(where, " AND ") + ` ORDER BY created_at, id`

	rows, err := r.q.QueryContext(ctx, r.dialect.rebind(query), args...)
	if err != nil {
		return nil, domain.Storage("failed to list receipts", err)
	}
	defer rows.Close()

	var out []domain.Receipt
	for rows.Next() {
		rc, err := scanReceipt(rows)
		if err != nil {
			return nil, domain.Storage("failed to scan receipt", err)
		}
		out = append(out, *rc)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Storage("failed to list receipts", err)
	}
	return out, nil
}

// HasMoreThan reports whether more than limit receipts match f.
func (r *ReceiptRepository) HasMoreThan(ctx context.Context, limit int64, f ReceiptsFilter) (bool, error) {
	where, args := receiptConditions(f)
	query := `SELECT COUNT(*) FROM receipts WHERE ` + strings.Join(where, " AND ")

	var count int64
	if err := r.q.QueryRowContext(ctx, r.dialect.rebind(query), args...).Scan(&count); err != nil {
		return false, domain.Storage("failed to count receipts", err)
	}
	return count > limit, nil
}

func receiptConditions(f ReceiptsFilter) ([]string, []any) {
	where := []string{"1=1"}
	args := []any{}

	if f.ObligationID != nil {
		where = append(where, "obligation_id = ?")
		args = append(args, *f.ObligationID)
	}
	if f.Method != nil && *f.Method != "" {
		where = append(where, "method = ?")
		args = append(args, *f.Method)
	}
	if f.PeriodStart != nil {
		where = append(where, "created_at >= ?")
		args = append(args, f.PeriodStart.UTC())
	}
	if f.PeriodEnd != nil {
		end := f.PeriodEnd.UTC()
		if end.Equal(domain.DateOnly(end)) {
			// a bare date covers that whole day
			where = append(where, "created_at < ?")
			args = append(args, end.AddDate(0, 0, 1))
		} else {
			where = append(where, "created_at <= ?")
			args = append(args, end)
		}
	}

	return where, args
}
