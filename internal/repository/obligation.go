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

type ObligationsFilter struct {
	Status  *domain.ObligationStatus
	SaleID  *string
	DueFrom *time.Time
	DueTo   *time.Time
	IDs     []string

	// Today anchors the overdue derivation for status filters.
	Today time.Time

	Limit  int
	Offset int
}

type ObligationRepository struct {
	q       querier
	dialect Dialect
}

const obligationColumns = `id, original_value, outstanding_balance, status, due_date, linkage_note, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanObligation(s rowScanner) (*domain.Obligation, error) {
	var (
		o         domain.Obligation
		status    string
		due       sqlDate
		createdAt sqlTime
		updatedAt sqlTime
	)
	if err := s.Scan(
		&o.ID,
		&o.OriginalValue,
		&o.OutstandingBalance,
		&status,
		&due,
		&o.LinkageNote,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}
	o.Status = domain.ObligationStatus(status)
	o.DueDate = due.Time
	o.CreatedAt = createdAt.Time
	o.UpdatedAt = updatedAt.Time
	return &o, nil
}

// Create inserts o, assigning an id and timestamps when unset.
func (r *ObligationRepository) Create(ctx context.Context, o *domain.Obligation) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now
	if o.Status == "" {
		o.Status = domain.StatusPending
	}

	query := r.dialect.rebind(`INSERT INTO obligations (` + obligationColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := r.q.ExecContext(ctx, query,
		o.ID,
		domain.RoundMoney(o.OriginalValue).StringFixed(domain.MoneyPlaces),
		domain.RoundMoney(o.OutstandingBalance).StringFixed(domain.MoneyPlaces),
		string(o.Status),
		sqlDate{o.DueDate},
		o.LinkageNote,
		o.CreatedAt,
		o.UpdatedAt,
	)
	if err != nil {
		return domain.Storage("failed to insert obligation", err)
	}
	return nil
}

func (r *ObligationRepository) Get(ctx context.Context, id string) (*domain.Obligation, error) {
	return r.get(ctx, id, "")
}

// GetForUpdate reads the obligation and, on Postgres, row-locks it until the
// surrounding transaction ends.
func (r *ObligationRepository) GetForUpdate(ctx context.Context, id string) (*domain.Obligation, error) {
	return r.get(ctx, id, r.dialect.forUpdate())
}

func (r *ObligationRepository) get(ctx context.Context, id, suffix string) (*domain.Obligation, error) {
	query := r.dialect.rebind(`SELECT ` + obligationColumns + ` FROM obligations WHERE id = ?` + suffix)

	o, err := scanObligation(r.q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound("obligation %s not found", id)
	}
	if err != nil {
		return nil, domain.Storage("failed to load obligation", err)
	}
	return o, nil
}

// ApplyDelta writes the new balance and status of a single obligation. The
// caller holds the per-obligation lock; no other row is touched.
func (r *ObligationRepository) ApplyDelta(ctx context.Context, id string, newBalance decimal.Decimal, newStatus domain.ObligationStatus) error {
	newBalance = domain.RoundMoney(newBalance)

	current, err := r.get(ctx, id, r.dialect.forUpdate())
	if err != nil {
		return err
	}
	if current.Status.IsTerminal() {
		return domain.InvalidState("obligation %s is already paid", id)
	}
	if newBalance.IsNegative() || newBalance.GreaterThan(current.OutstandingBalance) {
		return domain.InvalidState("balance of obligation %s cannot move from %s to %s",
			id, current.OutstandingBalance.StringFixed(domain.MoneyPlaces), newBalance.StringFixed(domain.MoneyPlaces))
	}
	if newStatus != domain.StatusPending && newStatus != domain.StatusPartial && newStatus != domain.StatusPaid {
		return domain.InvalidState("status %q cannot be stored", newStatus)
	}
	if (newStatus == domain.StatusPaid) != newBalance.IsZero() {
		return domain.InvalidState("status %s does not match balance %s", newStatus, newBalance.StringFixed(domain.MoneyPlaces))
	}

	query := r.dialect.rebind(`UPDATE obligations SET outstanding_balance = ?, status = ?, updated_at = ? WHERE id = ? AND status <> ?`)
	res, err := r.q.ExecContext(ctx, query,
		newBalance.StringFixed(domain.MoneyPlaces),
		string(newStatus),
		time.Now().UTC(),
		id,
		string(domain.StatusPaid),
	)
	if err != nil {
		return domain.Storage("failed to update obligation", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.Storage("failed to update obligation", err)
	}
	if n == 0 {
		return domain.InvalidState("obligation %s changed concurrently", id)
	}
	return nil
}

func (r *ObligationRepository) List(ctx context.Context, f ObligationsFilter) ([]domain.Obligation, error) {
	where, args := obligationConditions(f)

	query := `SELECT ` + obligationColumns + ` FROM obligations WHERE ` + strings.Join(where, " AND ") + ` ORDER BY due_date, created_at, id`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
		if f.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, f.Offset)
		}
	}

	rows, err := r.q.QueryContext(ctx, r.dialect.rebind(query), args...)
	if err != nil {
		return nil, domain.Storage("failed to list obligations", err)
	}
	defer rows.Close()

	var out []domain.Obligation
	for rows.Next() {
		o, err := scanObligation(rows)
		if err != nil {
			return nil, domain.Storage("failed to scan obligation", err)
		}
		out = append(out, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Storage("failed to list obligations", err)
	}
	return out, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

func obligationConditions(f ObligationsFilter) ([]string, []any) {
	where := []string{"1=1"}
	args := []any{}

	today := f.Today
	if today.IsZero() {
		today = time.Now().UTC()
	}
	todayArg := sqlDate{domain.DateOnly(today)}

	if f.Status != nil {
		switch *f.Status {
		case domain.StatusOverdue:
			where = append(where, "status <> ?", "due_date < ?")
			args = append(args, string(domain.StatusPaid), todayArg)
		case domain.StatusPaid:
			where = append(where, "status = ?")
			args = append(args, string(domain.StatusPaid))
		default:
			where = append(where, "status = ?", "due_date >= ?")
			args = append(args, string(*f.Status), todayArg)
		}
	}

	if f.SaleID != nil && *f.SaleID != "" {
		// the sale tag ends the note or is followed by another " | " segment
		sale := escapeLike(*f.SaleID)
		where = append(where, `(linkage_note LIKE ? ESCAPE '\' OR linkage_note LIKE ? ESCAPE '\')`)
		args = append(args, "%sale:"+sale, "%sale:"+sale+" |%")
	}

	if f.DueFrom != nil {
		where = append(where, "due_date >= ?")
		args = append(args, sqlDate{*f.DueFrom})
	}
	if f.DueTo != nil {
		where = append(where, "due_date <= ?")
		args = append(args, sqlDate{*f.DueTo})
	}

	if len(f.IDs) > 0 {
		marks := make([]string, len(f.IDs))
		for i, id := range f.IDs {
			marks[i] = "?"
			args = append(args, id)
		}
		where = append(where, "id IN ("+strings.Join(marks, ", ")+")")
	}

	return where, args
}
