// Package gormstore persists account records in a relational database through
// GORM. Receipt entries are stored append-only, one row per entry.
package gormstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarkoPoloResearchLab/terminus/pkg/ledger"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	constraintAccountsPrimary = "accounts_pkey"
	pgUniqueViolationCode     = "23505"
	sqliteConstraintCode      = 19
	errorOperationStore       = "store"
	errorSubjectAccount       = "account"
	errorSubjectReceipt       = "receipt"
	errorSubjectSchema        = "schema"
	errorCodeCreate           = "create"
	errorCodeDelete           = "delete"
	errorCodeInvalid          = "invalid"
	errorCodeList             = "list"
	errorCodeLoad             = "load"
	errorCodeMigrate          = "migrate"
	errorCodePersist          = "persist"
)

// Store implements ledger.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates or updates the tables the store owns.
func (store *Store) AutoMigrate(ctx context.Context) error {
	if err := store.db.WithContext(ctx).AutoMigrate(Models()...); err != nil {
		return wrapStoreError(errorSubjectSchema, errorCodeMigrate, err)
	}
	return nil
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore *Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) Load(ctx context.Context, name string) (ledger.Record, error) {
	normalized, err := ledger.NewAccountName(name)
	if err != nil {
		return ledger.Record{}, err
	}
	var account Account
	err = store.db.WithContext(ctx).Where("name = ?", normalized).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.Record{}, fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, normalized)
	}
	if err != nil {
		return ledger.Record{}, wrapStoreError(errorSubjectAccount, errorCodeLoad, err)
	}

	var sessions []ReceiptSession
	if err := store.db.WithContext(ctx).
		Where("account_name = ?", normalized).
		Order("position DESC").
		Find(&sessions).Error; err != nil {
		return ledger.Record{}, wrapStoreError(errorSubjectReceipt, errorCodeLoad, err)
	}
	var entries []ReceiptEntry
	if err := store.db.WithContext(ctx).
		Where("account_name = ?", normalized).
		Order("sequence DESC").
		Find(&entries).Error; err != nil {
		return ledger.Record{}, wrapStoreError(errorSubjectReceipt, errorCodeLoad, err)
	}

	record, err := mapRecord(account, sessions, entries)
	if err != nil {
		return ledger.Record{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	return record, nil
}

func (store *Store) Create(ctx context.Context, name string) (ledger.Record, error) {
	normalized, err := ledger.NewAccountName(name)
	if err != nil {
		return ledger.Record{}, err
	}
	existing, err := store.Load(ctx, normalized)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ledger.ErrAccountNotFound) {
		return ledger.Record{}, err
	}
	account := newAccountRow(ledger.NewRecord(normalized, ""))
	err = store.db.WithContext(ctx).Create(&account).Error
	if isAccountConflict(err) {
		return store.Load(ctx, normalized)
	}
	if err != nil {
		return ledger.Record{}, wrapStoreError(errorSubjectAccount, errorCodeCreate, err)
	}
	return store.Load(ctx, normalized)
}

// Persist writes the account row and appends receipt entries the database has
// not seen yet. Sessions and entries missing from record are removed.
func (store *Store) Persist(ctx context.Context, record ledger.Record) error {
	if err := record.Validate(); err != nil {
		return err
	}
	record.Normalize()
	return store.WithTx(ctx, func(ctx context.Context, txStore *Store) error {
		account := newAccountRow(record)
		err := txStore.db.WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "name"}},
				DoUpdates: clause.AssignmentColumns([]string{"wad_msats", "cap_msats", "pending", "beacons", "shared_seeds", "updated_at"}),
			}).
			Create(&account).Error
		if err != nil {
			return wrapStoreError(errorSubjectAccount, errorCodePersist, err)
		}
		if err := txStore.persistReceipts(ctx, record); err != nil {
			return wrapStoreError(errorSubjectReceipt, errorCodePersist, err)
		}
		return nil
	})
}

func (store *Store) persistReceipts(ctx context.Context, record ledger.Record) error {
	positions, err := store.sessionPositions(ctx, record.Name)
	if err != nil {
		return err
	}
	sessionIDs := make([]string, 0, len(record.Receipts))
	var changed []ReceiptSession
	for index, session := range record.Receipts {
		sessionIDs = append(sessionIDs, session.ID)
		position := len(record.Receipts) - 1 - index
		if stored, ok := positions[session.ID]; ok && stored == position {
			continue
		}
		changed = append(changed, ReceiptSession{
			SessionID:   session.ID,
			AccountName: record.Name,
			SharedSeed:  session.SharedSeed,
			Position:    position,
		})
	}
	if len(changed) > 0 {
		err := store.db.WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "session_id"}},
				DoUpdates: clause.AssignmentColumns([]string{"position"}),
			}).
			Create(&changed).Error
		if err != nil {
			return err
		}
	}
	if err := store.deleteStaleSessions(ctx, record.Name, sessionIDs); err != nil {
		return err
	}

	stored, err := store.entryCounts(ctx, record.Name)
	if err != nil {
		return err
	}
	var rows []ReceiptEntry
	for _, session := range record.Receipts {
		count := len(session.Entries)
		known := stored[session.ID]
		if known > count {
			if err := store.db.WithContext(ctx).
				Where("session_id = ? AND sequence >= ?", session.ID, count).
				Delete(&ReceiptEntry{}).Error; err != nil {
				return err
			}
			continue
		}
		for sequence := known; sequence < count; sequence++ {
			entry := session.Entries[count-1-sequence]
			rows = append(rows, ReceiptEntry{
				AccountName: record.Name,
				SessionID:   session.ID,
				Sequence:    sequence,
				Type:        string(entry.Type),
				RecordedAt:  entry.Time,
				Payload:     datatypes.NewJSONType(entry),
			})
		}
	}
	if len(rows) == 0 {
		return nil
	}
	return store.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rows).Error
}

func (store *Store) deleteStaleSessions(ctx context.Context, name string, keep []string) error {
	sessions := store.db.WithContext(ctx).Where("account_name = ?", name)
	entries := store.db.WithContext(ctx).Where("account_name = ?", name)
	if len(keep) > 0 {
		sessions = sessions.Where("session_id NOT IN ?", keep)
		entries = entries.Where("session_id NOT IN ?", keep)
	}
	if err := entries.Delete(&ReceiptEntry{}).Error; err != nil {
		return err
	}
	return sessions.Delete(&ReceiptSession{}).Error
}

func (store *Store) sessionPositions(ctx context.Context, name string) (map[string]int, error) {
	var sessions []ReceiptSession
	err := store.db.WithContext(ctx).
		Select("session_id", "position").
		Where("account_name = ?", name).
		Find(&sessions).Error
	if err != nil {
		return nil, err
	}
	positions := make(map[string]int, len(sessions))
	for _, session := range sessions {
		positions[session.SessionID] = session.Position
	}
	return positions, nil
}

type entryCount struct {
	SessionID string
	Total     int
}

func (store *Store) entryCounts(ctx context.Context, name string) (map[string]int, error) {
	var counts []entryCount
	err := store.db.WithContext(ctx).
		Model(&ReceiptEntry{}).
		Select("session_id, COUNT(*) AS total").
		Where("account_name = ?", name).
		Group("session_id").
		Scan(&counts).Error
	if err != nil {
		return nil, err
	}
	result := make(map[string]int, len(counts))
	for _, count := range counts {
		result[count.SessionID] = count.Total
	}
	return result, nil
}

func (store *Store) Delete(ctx context.Context, name string) error {
	normalized, err := ledger.NewAccountName(name)
	if err != nil {
		return err
	}
	return store.WithTx(ctx, func(ctx context.Context, txStore *Store) error {
		transaction := txStore.db.WithContext(ctx)
		if err := transaction.Where("account_name = ?", normalized).Delete(&ReceiptEntry{}).Error; err != nil {
			return wrapStoreError(errorSubjectReceipt, errorCodeDelete, err)
		}
		if err := transaction.Where("account_name = ?", normalized).Delete(&ReceiptSession{}).Error; err != nil {
			return wrapStoreError(errorSubjectReceipt, errorCodeDelete, err)
		}
		if err := transaction.Where("name = ?", normalized).Delete(&Account{}).Error; err != nil {
			return wrapStoreError(errorSubjectAccount, errorCodeDelete, err)
		}
		return nil
	})
}

func (store *Store) List(ctx context.Context) ([]string, error) {
	var names []string
	if err := store.db.WithContext(ctx).Model(&Account{}).Order("name ASC").Pluck("name", &names).Error; err != nil {
		return nil, wrapStoreError(errorSubjectAccount, errorCodeList, err)
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}

func newAccountRow(record ledger.Record) Account {
	return Account{
		Name:        record.Name,
		AccountUUID: record.UUID,
		WadMsats:    record.Wad.Msats,
		CapMsats:    record.Cap.Msats,
		Pending:     datatypes.NewJSONType(record.Pending),
		Beacons:     datatypes.JSONSlice[string](record.Beacons),
		SharedSeeds: datatypes.JSONSlice[string](record.SharedSeeds),
	}
}

func mapRecord(account Account, sessions []ReceiptSession, entries []ReceiptEntry) (ledger.Record, error) {
	record := ledger.NewRecord(account.Name, account.AccountUUID)
	record.Wad = ledger.Bitcoin(account.WadMsats)
	record.Cap = ledger.Bitcoin(account.CapMsats)
	record.Pending = account.Pending.Data()
	record.Beacons = append([]string{}, account.Beacons...)
	record.SharedSeeds = append([]string{}, account.SharedSeeds...)

	bySession := make(map[string][]ledger.ReceiptEntry, len(sessions))
	for _, row := range entries {
		entry := row.Payload.Data()
		if _, err := ledger.ParseReceiptEntryType(string(entry.Type)); err != nil {
			return ledger.Record{}, err
		}
		bySession[row.SessionID] = append(bySession[row.SessionID], entry)
	}
	for _, session := range sessions {
		sessionEntries := bySession[session.SessionID]
		if sessionEntries == nil {
			sessionEntries = []ledger.ReceiptEntry{}
		}
		record.Receipts = append(record.Receipts, ledger.ReceiptSession{
			ID:         session.SessionID,
			SharedSeed: session.SharedSeed,
			Entries:    sessionEntries,
		})
	}
	record.Normalize()
	if err := record.Validate(); err != nil {
		return ledger.Record{}, err
	}
	return record, nil
}

func isAccountConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintAccountsPrimary
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
