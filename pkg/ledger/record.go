package ledger

import (
	"context"
	"fmt"
	"strings"
)

// Record is the persisted state of one account.
type Record struct {
	Name        string            `json:"account_name"`
	UUID        string            `json:"account_uuid"`
	Wad         Wad               `json:"wad"`
	Cap         Wad               `json:"cap"`
	Pending     map[string]string `json:"pending"`
	Beacons     []string          `json:"beacons"`
	SharedSeeds []string          `json:"shared_seeds"`
	Receipts    []ReceiptSession  `json:"receipts"`
}

// NewRecord returns an empty record for name with the given uuid.
func NewRecord(name string, uuid string) Record {
	return Record{
		Name:        name,
		UUID:        uuid,
		Wad:         Bitcoin(0),
		Cap:         Bitcoin(0),
		Pending:     map[string]string{},
		Beacons:     []string{},
		SharedSeeds: []string{},
		Receipts:    []ReceiptSession{},
	}
}

// Normalize replaces nil collections with empty ones.
func (record *Record) Normalize() {
	if record.Pending == nil {
		record.Pending = map[string]string{}
	}
	if record.Beacons == nil {
		record.Beacons = []string{}
	}
	if record.SharedSeeds == nil {
		record.SharedSeeds = []string{}
	}
	if record.Receipts == nil {
		record.Receipts = []ReceiptSession{}
	}
	for index := range record.Receipts {
		if record.Receipts[index].Entries == nil {
			record.Receipts[index].Entries = []ReceiptEntry{}
		}
	}
}

// Validate checks the record before it is written or after it is read.
func (record Record) Validate() error {
	if _, err := NewAccountName(record.Name); err != nil {
		return err
	}
	if err := record.Wad.RequireBitcoin(); err != nil {
		return fmt.Errorf("%w: wad", err)
	}
	if err := record.Cap.RequireBitcoin(); err != nil {
		return fmt.Errorf("%w: cap", err)
	}
	if record.Wad.Msats < 0 {
		return fmt.Errorf("%w: negative balance", ErrInvalidAmount)
	}
	return nil
}

// NewAccountName validates an account name. Names are also file names for the
// file store, so path separators are rejected.
func NewAccountName(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty value", ErrInvalidAccountName)
	}
	if strings.ContainsAny(trimmed, `/\`) || trimmed == "." || trimmed == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidAccountName, raw)
	}
	return trimmed, nil
}

// Store is the persistence contract used by Account.
type Store interface {
	// Load returns ErrAccountNotFound when no record exists.
	Load(ctx context.Context, name string) (Record, error)
	// Create returns the existing record unchanged if there is one.
	Create(ctx context.Context, name string) (Record, error)
	// Persist replaces the stored record atomically.
	Persist(ctx context.Context, record Record) error
	Delete(ctx context.Context, name string) error
	// List returns the names of every persisted account.
	List(ctx context.Context) ([]string, error)
}
