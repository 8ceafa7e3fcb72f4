package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Invoice is the decoded view of a bolt11 payment request.
type Invoice struct {
	Bolt11      string
	PaymentHash string
	Msats       int64
	HasAmount   bool
	CreatedAt   time.Time
	Expiry      time.Duration
}

// ExpiresAt returns the instant after which the invoice can no longer be paid.
func (invoice Invoice) ExpiresAt() time.Time {
	return invoice.CreatedAt.Add(invoice.Expiry)
}

// Expired reports whether now is past created_at + expiry.
func (invoice Invoice) Expired(now time.Time) bool {
	return now.After(invoice.ExpiresAt())
}

// InvoiceDecoder turns bolt11 strings into Invoice values.
type InvoiceDecoder interface {
	Decode(bolt11 string) (Invoice, error)
}

// InvoiceDecoderFunc adapts a function to InvoiceDecoder.
type InvoiceDecoderFunc func(bolt11 string) (Invoice, error)

// Decode calls the function.
func (decoderFunc InvoiceDecoderFunc) Decode(bolt11 string) (Invoice, error) {
	return decoderFunc(bolt11)
}

// PaymentHashFromPreimage returns the hex sha256 of a hex preimage.
func PaymentHashFromPreimage(preimage string) (string, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(preimage))
	if err != nil {
		return "", fmt.Errorf("%w: preimage is not hex", ErrInvalidInvoice)
	}
	if len(raw) != sha256.Size {
		return "", fmt.Errorf("%w: preimage length %d", ErrInvalidInvoice, len(raw))
	}
	digest := sha256.Sum256(raw)
	return hex.EncodeToString(digest[:]), nil
}
