package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"pdv-haver/internal/domain"
	"pdv-haver/internal/repository"
)

type InstallmentPlan struct {
	SaleID       string
	Total        decimal.Decimal
	DownPayment  decimal.Decimal // entrada
	Installments int
	FirstDueDate time.Time
}

const maxInstallments = 360

// PlanInstallments divides (total - entrada) by n once, before any obligation
// exists. Each installment is rounded to cents and the last one absorbs the
// rounding remainder so the plan sums to the financed principal exactly.
func PlanInstallments(p InstallmentPlan) ([]*domain.Obligation, error) {
	total := domain.RoundMoney(p.Total)
	entrada := domain.RoundMoney(p.DownPayment)

	switch {
	case strings.TrimSpace(p.SaleID) == "":
		return nil, domain.InvalidState("sale id is required")
	case p.Installments < 1 || p.Installments > maxInstallments:
		return nil, domain.InvalidAmount("installment count must be between 1 and %d, got %d", maxInstallments, p.Installments)
	case !total.IsPositive():
		return nil, domain.InvalidAmount("sale total must be positive, got %s", total.StringFixed(domain.MoneyPlaces))
	case entrada.IsNegative():
		return nil, domain.InvalidAmount("down payment cannot be negative, got %s", entrada.StringFixed(domain.MoneyPlaces))
	case entrada.GreaterThanOrEqual(total):
		return nil, domain.InvalidAmount("down payment %s must be less than the total %s",
			entrada.StringFixed(domain.MoneyPlaces), total.StringFixed(domain.MoneyPlaces))
	}

	principal := total.Sub(entrada)
	n := decimal.NewFromInt(int64(p.Installments))
	each := principal.DivRound(n, domain.MoneyPlaces)
	last := principal.Sub(each.Mul(n.Sub(decimal.NewFromInt(1))))
	if !each.IsPositive() || !last.IsPositive() {
		return nil, domain.InvalidAmount("principal %s is too small for %d installments", principal.StringFixed(domain.MoneyPlaces), p.Installments)
	}

	firstDue := p.FirstDueDate
	if firstDue.IsZero() {
		firstDue = time.Now().UTC().AddDate(0, 1, 0)
	}

	out := make([]*domain.Obligation, 0, p.Installments)
	for i := 1; i <= p.Installments; i++ {
		value := each
		if i == p.Installments {
			value = last
		}
		o, err := domain.NewObligation(value, firstDue.AddDate(0, i-1, 0), installmentNote(i, p.Installments, p.SaleID))
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

func installmentNote(i, n int, saleID string) string {
	return fmt.Sprintf("Installment %d/%d | sale:%s", i, n, saleID)
}

type ObligationsCreatedNotifier interface {
	NotifyObligationsCreated(ctx context.Context, saleID string, ids []string) error
}

// CreateInstallments persists the plan for one sale in a single transaction.
func (s *ObligationService) CreateInstallments(ctx context.Context, p InstallmentPlan) ([]domain.Obligation, error) {
	planned, err := PlanInstallments(p)
	if err != nil {
		return nil, err
	}

	err = s.store.WithinTx(ctx, func(tx *repository.Store) error {
		for _, o := range planned {
			if err := tx.Obligations().Create(ctx, o); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(planned))
	out := make([]domain.Obligation, len(planned))
	for i, o := range planned {
		ids[i] = o.ID
		out[i] = *o
	}

	s.logger.Info("installments created",
		zap.String("sale_id", p.SaleID),
		zap.Int("count", len(planned)),
		zap.String("principal", p.Total.Sub(p.DownPayment).StringFixed(domain.MoneyPlaces)),
	)
	if s.notifier != nil {
		if err := s.notifier.NotifyObligationsCreated(ctx, p.SaleID, ids); err != nil {
			s.logger.Warn("created notification failed", zap.String("sale_id", p.SaleID), zap.Error(err))
		}
	}
	return out, nil
}
