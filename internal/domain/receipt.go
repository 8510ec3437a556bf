package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Receipt records an amount received against exactly one obligation.
// Receipts are append-only.
type Receipt struct {
	ID           string
	ObligationID string
	Amount       decimal.Decimal
	Method       string
	Note         string
	CreatedAt    time.Time
}
