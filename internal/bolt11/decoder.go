// Package bolt11 decodes lightning payment requests into ledger invoices.
package bolt11

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/MarkoPoloResearchLab/terminus/pkg/ledger"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/zpay32"
)

const invoicePrefix = "ln"

// Decoder implements ledger.InvoiceDecoder with zpay32. Without a configured
// network the chain is taken from the human readable part of each invoice.
type Decoder struct {
	network *chaincfg.Params
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithNetwork restricts decoding to invoices of one chain.
func WithNetwork(network *chaincfg.Params) Option {
	return func(decoder *Decoder) {
		decoder.network = network
	}
}

// New returns a Decoder.
func New(options ...Option) *Decoder {
	decoder := &Decoder{}
	for _, option := range options {
		option(decoder)
	}
	return decoder
}

func (decoder *Decoder) Decode(bolt11 string) (ledger.Invoice, error) {
	normalized := strings.ToLower(strings.TrimSpace(bolt11))
	network, err := decoder.networkFor(normalized)
	if err != nil {
		return ledger.Invoice{}, err
	}
	decoded, err := zpay32.Decode(normalized, network)
	if err != nil {
		return ledger.Invoice{}, fmt.Errorf("%w: %w", ledger.ErrInvalidInvoice, err)
	}
	if decoded.PaymentHash == nil {
		return ledger.Invoice{}, fmt.Errorf("%w: missing payment hash", ledger.ErrInvalidInvoice)
	}
	invoice := ledger.Invoice{
		Bolt11:      normalized,
		PaymentHash: hex.EncodeToString(decoded.PaymentHash[:]),
		CreatedAt:   decoded.Timestamp.UTC(),
		Expiry:      decoded.Expiry(),
	}
	invoice.Msats, invoice.HasAmount = msatsOf(decoded.MilliSat)
	return invoice, nil
}

func msatsOf(amount *lnwire.MilliSatoshi) (int64, bool) {
	if amount == nil {
		return 0, false
	}
	return int64(*amount), true
}

func (decoder *Decoder) networkFor(bolt11 string) (*chaincfg.Params, error) {
	if decoder.network != nil {
		return decoder.network, nil
	}
	if !strings.HasPrefix(bolt11, invoicePrefix) {
		return nil, fmt.Errorf("%w: missing %q prefix", ledger.ErrInvalidInvoice, invoicePrefix)
	}
	firstDigit := strings.IndexAny(bolt11, "0123456789")
	if firstDigit <= len(invoicePrefix) {
		return nil, fmt.Errorf("%w: no chain prefix", ledger.ErrInvalidInvoice)
	}
	return &chaincfg.Params{Bech32HRPSegwit: bolt11[len(invoicePrefix):firstDigit]}, nil
}
