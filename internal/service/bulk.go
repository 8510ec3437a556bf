package service

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"go.uber.org/zap"

	"pdv-haver/internal/domain"
)

type BulkItem struct {
	ObligationID string
	Amount       decimal.Decimal
	Method       string
	Note         string

	// Reject fails this item without settling it, e.g. an unparsable amount.
	Reject error
}

type BulkReceipt struct {
	Index  int
	Result SettleResult
}

type BulkFailure struct {
	Index        int
	ObligationID string
	Kind         domain.ErrorKind
	Message      string
}

type BulkResult struct {
	Receipts  []BulkReceipt
	Errors    []BulkFailure
	Total     int
	Succeeded int
	Failed    int
	Applied   decimal.Decimal
}

// SettleBatch settles every item on its own. A failing item is reported in
// Errors and never rolls back or stops the others.
func (s *SettlementService) SettleBatch(ctx context.Context, items []BulkItem) *BulkResult {
	s.metrics.observeBatch(len(items))

	results := make([]*SettleResult, len(items))
	failures := make([]error, len(items))

	g := new(errgroup.Group)
	g.SetLimit(s.bulkConcurrency)

	for i, item := range items {
		g.Go(func() error {
			if item.Reject != nil {
				failures[i] = item.Reject
				return nil
			}
			res, err := s.Settle(ctx, SettleCommand{
				ObligationID: item.ObligationID,
				Amount:       item.Amount,
				Method:       item.Method,
				Note:         item.Note,
			})
			if err != nil {
				failures[i] = err
				return nil
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	out := &BulkResult{
		Receipts: []BulkReceipt{},
		Errors:   []BulkFailure{},
		Total:    len(items),
		Applied:  decimal.Zero,
	}
	for i := range items {
		if err := failures[i]; err != nil {
			out.Errors = append(out.Errors, BulkFailure{
				Index:        i,
				ObligationID: items[i].ObligationID,
				Kind:         domain.KindOf(err),
				Message:      errorMessage(err),
			})
			continue
		}
		out.Receipts = append(out.Receipts, BulkReceipt{Index: i, Result: *results[i]})
		out.Applied = out.Applied.Add(results[i].Applied)
	}
	out.Succeeded = len(out.Receipts)
	out.Failed = len(out.Errors)

	s.logger.Info("bulk settlement finished",
		zap.Int("total", out.Total),
		zap.Int("succeeded", out.Succeeded),
		zap.Int("failed", out.Failed),
		zap.String("applied", out.Applied.StringFixed(domain.MoneyPlaces)),
	)
	return out
}

// errorMessage hides wrapped driver errors behind the domain message.
func errorMessage(err error) string {
	var de *domain.Error
	if errors.As(err, &de) {
		return de.Message
	}
	return err.Error()
}
