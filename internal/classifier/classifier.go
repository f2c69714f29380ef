// Package classifier decides whether a captured notification text is a
// genuine received-payment notification and extracts amount, payer and
// currency from it. It is a pure rule set: no I/O, no state, and the same
// input always yields the same result.
package classifier

import (
	"errors"
	"strings"

	"github.com/go-paynotify/internal/domain"
	"github.com/shopspring/decimal"
)

// Reason names why a text was rejected.
type Reason string

const (
	ReasonUnmonitoredPackage Reason = "unmonitored_package"
	ReasonEmptyText          Reason = "empty_text"
	ReasonNoPaymentKeyword   Reason = "no_payment_keyword"
	ReasonPromotional        Reason = "promotional"
	ReasonNoPaymentAction    Reason = "no_payment_action"
	ReasonAmountOutOfRange   Reason = "amount_out_of_range"
)

// Rejection is returned when a text is not a payment notification. It is an
// expected outcome, not a system failure.
type Rejection struct {
	Reason Reason
}

func (r *Rejection) Error() string {
	return "not a payment notification: " + string(r.Reason)
}

// IsRejection reports whether err is a classification rejection.
func IsRejection(err error) bool {
	var r *Rejection
	return errors.As(err, &r)
}

// DefaultMaxAmount is the sanity ceiling for a push-notified deposit.
var DefaultMaxAmount = decimal.NewFromInt(1_000_000)

// Classifier holds the tunable bounds; the keyword and pattern tables are fixed.
type Classifier struct {
	maxAmount decimal.Decimal
}

type Option func(*Classifier)

// WithMaxAmount overrides the amount ceiling. Non-positive values are ignored.
func WithMaxAmount(limit decimal.Decimal) Option {
	return func(c *Classifier) {
		if limit.IsPositive() {
			c.maxAmount = limit
		}
	}
}

func New(opts ...Option) *Classifier {
	c := &Classifier{maxAmount: DefaultMaxAmount}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SourceAppFor maps a package name to its canonical source app by
// case-insensitive fragment match.
func SourceAppFor(packageName string) (domain.SourceApp, bool) {
	p := strings.ToLower(packageName)
	for _, r := range packageRules {
		if strings.Contains(p, r.fragment) {
			return r.source, true
		}
	}
	return "", false
}

// DefaultPackages returns the package names monitored out of the box.
func DefaultPackages() []string {
	return append([]string(nil), defaultPackages...)
}

// Classify returns the payment event for the text or a *Rejection.
// ReceivedAt and RawJSON are left for the caller to fill.
func (c *Classifier) Classify(packageName, title, body string) (*domain.PaymentEvent, error) {
	source, ok := SourceAppFor(packageName)
	if !ok {
		return nil, &Rejection{Reason: ReasonUnmonitoredPackage}
	}

	title = strings.TrimSpace(title)
	body = strings.TrimSpace(body)
	if title == "" && body == "" {
		return nil, &Rejection{Reason: ReasonEmptyText}
	}

	foldedBody := fold(body)
	foldedTitle := fold(title)
	lowerBody := strings.ToLower(foldedBody)
	lowerAll := strings.ToLower(strings.TrimSpace(foldedTitle + " " + foldedBody))

	if !containsAny(lowerBody, inclusionKeywords) {
		return nil, &Rejection{Reason: ReasonNoPaymentKeyword}
	}

	exclusions := countDistinct(lowerAll, exclusionKeywords)
	if exclusions >= 2 {
		return nil, &Rejection{Reason: ReasonPromotional}
	}
	if !containsAny(lowerAll, inboundActions) {
		return nil, &Rejection{Reason: ReasonNoPaymentAction}
	}

	amount, cueCurrency := extractAmount(foldedBody)
	if amount == nil {
		amount, cueCurrency = extractAmount(foldedTitle)
	}
	// One incidental exclusion keyword is tolerated only when the text
	// carries the full structure: inbound verb plus amount.
	if exclusions == 1 && amount == nil {
		return nil, &Rejection{Reason: ReasonNoPaymentAction}
	}
	if amount != nil && (amount.IsZero() || amount.GreaterThan(c.maxAmount)) {
		return nil, &Rejection{Reason: ReasonAmountOutOfRange}
	}

	payer := extractPayer(foldedBody)
	if payer == nil {
		payer = extractPayer(foldedTitle)
	}

	currency := cueCurrency
	if currency == "" {
		currency = currencyFromText(lowerAll)
	}

	return &domain.PaymentEvent{
		SourceApp: source,
		Title:     title,
		Body:      body,
		Amount:    amount,
		Currency:  currency,
		PayerName: payer,
	}, nil
}
