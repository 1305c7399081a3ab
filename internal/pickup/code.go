// Package pickup turns a pickup-time proof into exactly one Completed
// transition per order.
//
// A pickup code has the form PREFIX:ORDER_NUMBER:ORDER_ID, where
// ORDER_NUMBER is the human-facing number without its leading marker
// (e.g. "#1042" becomes "1042"). The scan path decodes a code from a
// scanned payload; the manual path builds the same code from the order.
// Both then run the same validation and submission steps.
package pickup

import (
	"strings"

	"github.com/google/uuid"

	"github.com/mazza/sellerd/internal/domain"
	"github.com/mazza/sellerd/internal/fault"
	"github.com/mazza/sellerd/internal/lifecycle"
)

// Prefix identifies the issuing marketplace.
const Prefix = "MAZZA"

const separator = ":"

// tokenNamespace scopes completion idempotency tokens.
var tokenNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://mazza.app/pickup/complete"))

// Code is a decoded pickup code.
type Code struct {
	OrderNumber string
	OrderID     string
}

// String returns the wire form.
func (c Code) String() string {
	return Prefix + separator + c.OrderNumber + separator + c.OrderID
}

// Encode builds the pickup code for order.
func Encode(order domain.Order) string {
	return Code{OrderNumber: order.NormalizedNumber(), OrderID: order.ID}.String()
}

// Decode parses a code. It fails with MalformedCode unless the code has
// exactly three non-empty segments and the expected prefix.
func Decode(raw string) (Code, error) {
	parts := strings.Split(strings.TrimSpace(raw), separator)
	if len(parts) != 3 {
		return Code{}, fault.Newf(fault.KindMalformedCode, "pickup code must have 3 segments, got %d", len(parts))
	}
	if parts[0] != Prefix {
		return Code{}, fault.Newf(fault.KindMalformedCode, "pickup code has unknown prefix %q", parts[0])
	}
	if parts[1] == "" || parts[2] == "" {
		return Code{}, fault.New(fault.KindMalformedCode, "pickup code has an empty segment")
	}
	return Code{OrderNumber: domain.NormalizeOrderNumber(parts[1]), OrderID: parts[2]}, nil
}

// Validate runs the client-side pre-checks: the code must be well formed,
// must belong to order, and order must currently be completable. No network
// call is made.
func Validate(raw string, order domain.Order) (Code, error) {
	code, err := Decode(raw)
	if err != nil {
		return Code{}, err
	}
	if code.OrderNumber != order.NormalizedNumber() || code.OrderID != order.ID {
		return Code{}, fault.Newf(fault.KindCodeMismatch,
			"pickup code %s does not belong to order #%s", code, order.NormalizedNumber())
	}
	if err := lifecycle.CheckCompletable(order); err != nil {
		return Code{}, err
	}
	return code, nil
}

// IdempotencyToken derives the completion token for an order. The same
// order always yields the same token, so retried submissions are collapsed
// by the backend.
func IdempotencyToken(orderID string) string {
	return uuid.NewSHA1(tokenNamespace, []byte(orderID)).String()
}
