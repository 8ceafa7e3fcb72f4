package ledger

import (
	"fmt"
	"time"
)

// ReceiptEntryType tags a receipt entry.
type ReceiptEntryType string

const (
	ReceiptSessionStart     ReceiptEntryType = "session_start"
	ReceiptInvoiceRequest   ReceiptEntryType = "invoice_request"
	ReceiptPayRequest       ReceiptEntryType = "pay_request"
	ReceiptPreimageNotified ReceiptEntryType = "preimage_notified"
	ReceiptInvoiceNotified  ReceiptEntryType = "invoice_notified"
	ReceiptErrorNotified    ReceiptEntryType = "error_notified"
	ReceiptSessionEnd       ReceiptEntryType = "session_end"
)

// ParseReceiptEntryType validates a persisted entry type.
func ParseReceiptEntryType(raw string) (ReceiptEntryType, error) {
	switch entryType := ReceiptEntryType(raw); entryType {
	case ReceiptSessionStart, ReceiptInvoiceRequest, ReceiptPayRequest, ReceiptPreimageNotified,
		ReceiptInvoiceNotified, ReceiptErrorNotified, ReceiptSessionEnd:
		return entryType, nil
	default:
		return "", fmt.Errorf("unknown receipt entry type %q", raw)
	}
}

// ReceiptEntry is one audit line. Only the fields relevant to Type are set.
type ReceiptEntry struct {
	Type      ReceiptEntryType `json:"type"`
	Time      time.Time        `json:"time"`
	Wad       *Wad             `json:"wad,omitempty"`
	Bolt11    string           `json:"bolt11,omitempty"`
	Preimage  string           `json:"preimage,omitempty"`
	Increment bool             `json:"increment,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// ReceiptSession is the audit trail of one connection lifetime of a shared
// seed. Entries are ordered most recent first.
type ReceiptSession struct {
	ID         string         `json:"session_id"`
	SharedSeed string         `json:"shared_seed"`
	Entries    []ReceiptEntry `json:"entries"`
}

// SessionStartEntry opens a session.
func SessionStartEntry(now time.Time) ReceiptEntry {
	return ReceiptEntry{Type: ReceiptSessionStart, Time: receiptTime(now)}
}

// InvoiceRequestEntry records a client asking for an invoice.
func InvoiceRequestEntry(now time.Time, wad Wad) ReceiptEntry {
	return ReceiptEntry{Type: ReceiptInvoiceRequest, Time: receiptTime(now), Wad: &wad}
}

// PayRequestEntry records a client asking the account to pay an invoice.
func PayRequestEntry(now time.Time, bolt11 string, wad Wad) ReceiptEntry {
	return ReceiptEntry{Type: ReceiptPayRequest, Time: receiptTime(now), Wad: &wad, Bolt11: bolt11}
}

// PreimageNotifiedEntry records a settled payment. Increment is true when the
// balance went up.
func PreimageNotifiedEntry(now time.Time, preimage string, increment bool, wad Wad) ReceiptEntry {
	return ReceiptEntry{Type: ReceiptPreimageNotified, Time: receiptTime(now), Preimage: preimage, Increment: increment, Wad: &wad}
}

// InvoiceNotifiedEntry records an invoice handed to the client.
func InvoiceNotifiedEntry(now time.Time, bolt11 string) ReceiptEntry {
	return ReceiptEntry{Type: ReceiptInvoiceNotified, Time: receiptTime(now), Bolt11: bolt11}
}

// ErrorNotifiedEntry records an error reported to the client.
func ErrorNotifiedEntry(now time.Time, message string) ReceiptEntry {
	return ReceiptEntry{Type: ReceiptErrorNotified, Time: receiptTime(now), Error: message}
}

// SessionEndEntry closes a session.
func SessionEndEntry(now time.Time) ReceiptEntry {
	return ReceiptEntry{Type: ReceiptSessionEnd, Time: receiptTime(now)}
}

// receiptTime drops the monotonic reading and sub-microsecond precision so
// that entries compare equal after a persistence round trip.
func receiptTime(now time.Time) time.Time {
	return now.UTC().Truncate(time.Microsecond)
}
