package gormstore

import (
	"time"

	"github.com/MarkoPoloResearchLab/terminus/pkg/ledger"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Account represents the accounts table.
type Account struct {
	Name        string                                `gorm:"primaryKey"`
	AccountUUID string                                `gorm:"type:uuid;not null;uniqueIndex:idx_accounts_uuid"`
	WadMsats    int64                                 `gorm:"not null"`
	CapMsats    int64                                 `gorm:"not null"`
	Pending     datatypes.JSONType[map[string]string] `gorm:"not null"`
	Beacons     datatypes.JSONSlice[string]           `gorm:"not null"`
	SharedSeeds datatypes.JSONSlice[string]           `gorm:"not null"`
	CreatedAt   time.Time                             `gorm:"not null"`
	UpdatedAt   time.Time                             `gorm:"not null"`
}

func (Account) TableName() string { return "accounts" }

func (account *Account) BeforeCreate(tx *gorm.DB) error {
	if account.AccountUUID == "" {
		account.AccountUUID = uuid.NewString()
	}
	return nil
}

// ReceiptSession mirrors the receipt_sessions table. Position counts sessions
// of one account in the order they were opened.
type ReceiptSession struct {
	SessionID   string `gorm:"primaryKey"`
	AccountName string `gorm:"not null;index:idx_sessions_account_position,priority:1"`
	SharedSeed  string `gorm:"not null"`
	Position    int    `gorm:"not null;index:idx_sessions_account_position,priority:2"`
}

func (ReceiptSession) TableName() string { return "receipt_sessions" }

// ReceiptEntry mirrors the receipt_entries table. Entries are append-only;
// Sequence counts from the session start.
type ReceiptEntry struct {
	EntryID     string                                  `gorm:"type:uuid;primaryKey"`
	AccountName string                                  `gorm:"not null;index"`
	SessionID   string                                  `gorm:"not null;index:uniq_entry_session_sequence,unique,priority:1"`
	Sequence    int                                     `gorm:"not null;index:uniq_entry_session_sequence,unique,priority:2"`
	Type        string                                  `gorm:"not null"`
	RecordedAt  time.Time                               `gorm:"not null"`
	Payload     datatypes.JSONType[ledger.ReceiptEntry] `gorm:"not null"`
}

func (ReceiptEntry) TableName() string { return "receipt_entries" }

func (entry *ReceiptEntry) BeforeCreate(tx *gorm.DB) error {
	if entry.EntryID == "" {
		entry.EntryID = uuid.NewString()
	}
	return nil
}

// Models lists every table the store owns, in migration order.
func Models() []any {
	return []any{&Account{}, &ReceiptSession{}, &ReceiptEntry{}}
}
