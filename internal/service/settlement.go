package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"pdv-haver/internal/domain"
	"pdv-haver/internal/repository"
)

type OverpaymentPolicy string

const (
	// OverpaymentReturn consumes up to the balance and reports the rest as unused.
	OverpaymentReturn OverpaymentPolicy = "return"
	// OverpaymentReject fails the whole settle when the amount exceeds the balance.
	OverpaymentReject OverpaymentPolicy = "reject"
)

func ParseOverpaymentPolicy(s string) (OverpaymentPolicy, error) {
	switch OverpaymentPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", OverpaymentReturn:
		return OverpaymentReturn, nil
	case OverpaymentReject:
		return OverpaymentReject, nil
	}
	return "", fmt.Errorf("unknown overpayment policy %q", s)
}

type SettleCommand struct {
	ObligationID string
	Amount       decimal.Decimal
	Method       string
	Note         string

	// CarryForward moves a positive remaining balance into a new obligation
	// and closes this one.
	CarryForward        bool
	CarryForwardDueDate *time.Time
}

type SettleResult struct {
	ReceiptID             string
	ObligationID          string
	Applied               decimal.Decimal
	Unused                decimal.Decimal
	NewBalance            decimal.Decimal
	Status                domain.ObligationStatus
	RemainingObligationID string
}

type SettlementNotifier interface {
	NotifyObligationSettled(ctx context.Context, obligationID string, data map[string]any) error
}

type SettlementService struct {
	store    *repository.Store
	locker   Locker
	notifier SettlementNotifier
	metrics  *Metrics
	policy   OverpaymentPolicy
	logger   *zap.Logger

	bulkConcurrency int
}

type SettlementOption func(*SettlementService)

// WithDistributedLock adds a cross-instance lock taken after the in-process one.
func WithDistributedLock(l Locker) SettlementOption {
	return func(s *SettlementService) {
		if l != nil {
			s.locker = chainLockers{s.locker, l}
		}
	}
}

func WithNotifier(n SettlementNotifier) SettlementOption {
	return func(s *SettlementService) { s.notifier = n }
}

func WithMetrics(m *Metrics) SettlementOption {
	return func(s *SettlementService) { s.metrics = m }
}

func WithBulkConcurrency(n int) SettlementOption {
	return func(s *SettlementService) {
		if n > 0 {
			s.bulkConcurrency = n
		}
	}
}

func NewSettlementService(store *repository.Store, policy OverpaymentPolicy, logger *zap.Logger, opts ...SettlementOption) *SettlementService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy == "" {
		policy = OverpaymentReturn
	}
	s := &SettlementService{
		store:           store,
		locker:          NewKeyedMutex(),
		policy:          policy,
		logger:          logger.Named("settlement"),
		bulkConcurrency: 1,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Settle applies cmd.Amount to exactly one obligation. The receipt and the
// balance update commit together or not at all.
func (s *SettlementService) Settle(ctx context.Context, cmd SettleCommand) (*SettleResult, error) {
	started := time.Now()
	res, err := s.settle(ctx, cmd)

	outcome := "ok"
	if err != nil {
		outcome = string(domain.KindOf(err))
		s.metrics.observeSettle(outcome, decimal.Zero, decimal.Zero, time.Since(started))
		s.logger.Info("settle rejected",
			zap.String("obligation_id", cmd.ObligationID),
			zap.String("amount", cmd.Amount.String()),
			zap.String("kind", outcome),
			zap.Error(err),
		)
		return nil, err
	}

	s.metrics.observeSettle(outcome, res.Applied, res.Unused, time.Since(started))
	s.logger.Info("obligation settled",
		zap.String("obligation_id", res.ObligationID),
		zap.String("receipt_id", res.ReceiptID),
		zap.String("applied", res.Applied.StringFixed(domain.MoneyPlaces)),
		zap.String("unused", res.Unused.StringFixed(domain.MoneyPlaces)),
		zap.String("balance", res.NewBalance.StringFixed(domain.MoneyPlaces)),
		zap.String("status", string(res.Status)),
		zap.String("remaining_obligation_id", res.RemainingObligationID),
	)

	if s.notifier != nil {
		if err := s.notifier.NotifyObligationSettled(ctx, res.ObligationID, settledPayload(res)); err != nil {
			s.logger.Warn("settle notification failed", zap.String("obligation_id", res.ObligationID), zap.Error(err))
		}
	}
	return res, nil
}

func (s *SettlementService) settle(ctx context.Context, cmd SettleCommand) (*SettleResult, error) {
	if err := domain.CheckPaymentAmount(cmd.Amount); err != nil {
		return nil, err
	}
	amount := cmd.Amount
	if strings.TrimSpace(cmd.ObligationID) == "" {
		return nil, domain.NotFound("obligation id is required")
	}

	release, err := s.locker.Acquire(ctx, cmd.ObligationID)
	if err != nil {
		var de *domain.Error
		if !errors.As(err, &de) {
			err = domain.Storage("failed to wait for obligation lock", err)
		}
		return nil, err
	}
	defer release()

	var res *SettleResult
	err = s.store.WithinTx(ctx, func(tx *repository.Store) error {
		obligations := tx.Obligations()

		o, err := obligations.GetForUpdate(ctx, cmd.ObligationID)
		if err != nil {
			return err
		}

		plan, err := o.PlanPayment(amount)
		if err != nil {
			return err
		}
		if s.policy == OverpaymentReject && plan.Unused.IsPositive() {
			return domain.InvalidAmount("overpayment: amount %s exceeds outstanding balance %s of obligation %s",
				amount.StringFixed(domain.MoneyPlaces), o.OutstandingBalance.StringFixed(domain.MoneyPlaces), o.ID)
		}

		receipt, err := tx.Receipts().Record(ctx, o.ID, plan.Applied, cmd.Method, cmd.Note)
		if err != nil {
			return err
		}

		res = &SettleResult{
			ReceiptID:    receipt.ID,
			ObligationID: o.ID,
			Applied:      plan.Applied,
			Unused:       plan.Unused,
			NewBalance:   plan.NewBalance,
			Status:       plan.NewStatus,
		}

		if cmd.CarryForward && plan.NewBalance.IsPositive() {
			remaining, err := s.carryForward(ctx, tx, o, plan.NewBalance, cmd.CarryForwardDueDate)
			if err != nil {
				return err
			}
			res.RemainingObligationID = remaining.ID
			res.NewBalance = decimal.Zero
			res.Status = domain.StatusPaid
		}

		return obligations.ApplyDelta(ctx, o.ID, res.NewBalance, res.Status)
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// carryForward opens a new obligation for balance; the original is then
// closed by the caller inside the same transaction.
func (s *SettlementService) carryForward(ctx context.Context, tx *repository.Store, o *domain.Obligation, balance decimal.Decimal, dueDate *time.Time) (*domain.Obligation, error) {
	due := o.DueDate.AddDate(0, 1, 0)
	if dueDate != nil && !dueDate.IsZero() {
		due = *dueDate
	}

	note := "remainder-of:" + o.ID
	if o.LinkageNote != "" {
		note = o.LinkageNote + " | " + note
	}

	remaining, err := domain.NewObligation(balance, due, note)
	if err != nil {
		return nil, err
	}
	if err := tx.Obligations().Create(ctx, remaining); err != nil {
		return nil, err
	}
	return remaining, nil
}

func settledPayload(res *SettleResult) map[string]any {
	data := map[string]any{
		"obligationId":       res.ObligationID,
		"receiptId":          res.ReceiptID,
		"applied":            res.Applied.InexactFloat64(),
		"unusedAmount":       res.Unused.InexactFloat64(),
		"outstandingBalance": res.NewBalance.InexactFloat64(),
		"status":             string(res.Status),
	}
	if res.RemainingObligationID != "" {
		data["remainingTransactionId"] = res.RemainingObligationID
	}
	return data
}
