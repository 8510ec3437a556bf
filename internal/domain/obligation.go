package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MoneyPlaces is the number of decimal places amounts are rounded to.
const MoneyPlaces = 2

type ObligationStatus string

const (
	StatusPending ObligationStatus = "pending"
	StatusPartial ObligationStatus = "partial"
	StatusPaid    ObligationStatus = "paid"
	// StatusOverdue is never stored; it is derived from the due date on read.
	StatusOverdue ObligationStatus = "overdue"
)

func (s ObligationStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusPartial, StatusPaid, StatusOverdue:
		return true
	}
	return false
}

func (s ObligationStatus) IsTerminal() bool {
	return s == StatusPaid
}

// Obligation is one installment or receivable. It is settled on its own:
// nothing that happens to an obligation touches its siblings of the same sale.
type Obligation struct {
	ID string

	OriginalValue      decimal.Decimal
	OutstandingBalance decimal.Decimal
	Status             ObligationStatus

	DueDate time.Time

	// LinkageNote identifies the parent sale and installment index,
	// e.g. "Installment 2/4 | sale:X". Display and grouping only.
	LinkageNote string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewObligation returns a pending obligation whose balance equals its value.
func NewObligation(value decimal.Decimal, dueDate time.Time, linkageNote string) (*Obligation, error) {
	value = RoundMoney(value)
	if !value.IsPositive() {
		return nil, InvalidAmount("obligation value must be positive, got %s", value.StringFixed(MoneyPlaces))
	}
	return &Obligation{
		OriginalValue:      value,
		OutstandingBalance: value,
		Status:             StatusPending,
		DueDate:            DateOnly(dueDate),
		LinkageNote:        linkageNote,
	}, nil
}

// EffectiveStatus reports overdue for an open obligation whose due date is before today.
func (o *Obligation) EffectiveStatus(now time.Time) ObligationStatus {
	if o.Status == StatusPaid {
		return StatusPaid
	}
	if !o.DueDate.IsZero() && DateOnly(o.DueDate).Before(DateOnly(now)) {
		return StatusOverdue
	}
	return o.Status
}

// PaymentPlan is the outcome of applying a tendered amount to one obligation.
type PaymentPlan struct {
	Applied    decimal.Decimal
	Unused     decimal.Decimal
	NewBalance decimal.Decimal
	NewStatus  ObligationStatus
}

// PlanPayment computes what a payment of amount does to this obligation alone.
// At most the outstanding balance is consumed; the excess is reported as Unused.
func (o *Obligation) PlanPayment(amount decimal.Decimal) (PaymentPlan, error) {
	if err := CheckPaymentAmount(amount); err != nil {
		return PaymentPlan{}, err
	}
	if o.Status == StatusPaid || !o.OutstandingBalance.IsPositive() {
		return PaymentPlan{}, AlreadySettled(o.ID)
	}

	applied := decimal.Min(amount, o.OutstandingBalance)
	newBalance := o.OutstandingBalance.Sub(applied)

	status := StatusPartial
	if newBalance.IsZero() {
		status = StatusPaid
	}

	return PaymentPlan{
		Applied:    applied,
		Unused:     amount.Sub(applied),
		NewBalance: newBalance,
		NewStatus:  status,
	}, nil
}

// CheckPaymentAmount rejects non-positive amounts and amounts finer than a cent.
func CheckPaymentAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return InvalidAmount("payment amount must be positive, got %s", amount.String())
	}
	if !amount.Equal(amount.Round(MoneyPlaces)) {
		return InvalidAmount("payment amount %s has more than %d decimal places", amount.String(), MoneyPlaces)
	}
	return nil
}

func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// DateOnly truncates t to midnight UTC of its calendar date.
func DateOnly(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
