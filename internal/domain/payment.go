package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentEvent is the classifier's view of a genuine received-payment
// notification. Amount and PayerName stay nil when extraction fails.
type PaymentEvent struct {
	SourceApp  SourceApp
	Title      string
	Body       string
	Amount     *decimal.Decimal
	Currency   string
	PayerName  *string
	ReceivedAt time.Time
	RawJSON    json.RawMessage
}
