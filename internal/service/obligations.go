package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"pdv-haver/internal/domain"
	"pdv-haver/internal/repository"
)

// ObligationService serves reads and creation. Reads report the effective
// status, so open obligations past their due date come back as overdue.
type ObligationService struct {
	store    *repository.Store
	notifier ObligationsCreatedNotifier
	logger   *zap.Logger
	now      func() time.Time
}

func NewObligationService(store *repository.Store, notifier ObligationsCreatedNotifier, logger *zap.Logger) *ObligationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ObligationService{
		store:    store,
		notifier: notifier,
		logger:   logger.Named("obligations"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *ObligationService) Get(ctx context.Context, id string) (*domain.Obligation, error) {
	o, err := s.store.Obligations().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	o.Status = o.EffectiveStatus(s.now())
	return o, nil
}

func (s *ObligationService) List(ctx context.Context, f repository.ObligationsFilter) ([]domain.Obligation, error) {
	now := s.now()
	f.Today = now

	list, err := s.store.Obligations().List(ctx, f)
	if err != nil {
		return nil, err
	}
	for i := range list {
		list[i].Status = list[i].EffectiveStatus(now)
	}
	return list, nil
}

// Create registers a single receivable outside any installment plan.
func (s *ObligationService) Create(ctx context.Context, value decimal.Decimal, dueDate time.Time, note string) (*domain.Obligation, error) {
	o, err := domain.NewObligation(value, dueDate, note)
	if err != nil {
		return nil, err
	}
	if err := s.store.Obligations().Create(ctx, o); err != nil {
		return nil, err
	}
	s.logger.Info("obligation created", zap.String("obligation_id", o.ID), zap.String("value", o.OriginalValue.StringFixed(domain.MoneyPlaces)))
	o.Status = o.EffectiveStatus(s.now())
	return o, nil
}

// Receipts lists the receipts of one obligation, failing for unknown ids.
func (s *ObligationService) Receipts(ctx context.Context, obligationID string) ([]domain.Receipt, error) {
	if _, err := s.store.Obligations().Get(ctx, obligationID); err != nil {
		return nil, err
	}
	return s.store.Receipts().ListByObligation(ctx, obligationID)
}

func (s *ObligationService) Receipt(ctx context.Context, id string) (*domain.Receipt, error) {
	return s.store.Receipts().Get(ctx, id)
}
