package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ReceiptLog maintains the receipt sessions of one record and the index of
// sessions that are still open, keyed by session key (the shared seed).
type ReceiptLog struct {
	record  *Record
	active  map[string]string
	persist func(ctx context.Context) error
	logger  *zap.Logger
}

// NewReceiptLog returns a log over record. persist is called after every append.
func NewReceiptLog(record *Record, persist func(ctx context.Context) error, logger *zap.Logger) *ReceiptLog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReceiptLog{
		record:  record,
		active:  map[string]string{},
		persist: persist,
		logger:  logger,
	}
}

// OpenSession starts a new empty session and makes it the active one for key.
// A session already open under key stays in the history but stops receiving entries.
func (receiptLog *ReceiptLog) OpenSession(sessionKey string) string {
	if previous, ok := receiptLog.active[sessionKey]; ok {
		receiptLog.logger.Warn("replacing open receipt session",
			zap.String("session_key", sessionKey),
			zap.String("session_id", previous))
	}
	session := ReceiptSession{
		ID:         uuid.NewString(),
		SharedSeed: sessionKey,
		Entries:    []ReceiptEntry{},
	}
	receiptLog.record.Receipts = append([]ReceiptSession{session}, receiptLog.record.Receipts...)
	receiptLog.active[sessionKey] = session.ID
	return session.ID
}

// Append inserts entry at the head of the open session for key and persists.
// Appending to a key without an open session is logged and ignored.
func (receiptLog *ReceiptLog) Append(ctx context.Context, sessionKey string, entry ReceiptEntry) error {
	sessionID, ok := receiptLog.active[sessionKey]
	if !ok {
		receiptLog.logger.Info("not keeping receipt",
			zap.String("session_key", sessionKey),
			zap.String("entry_type", string(entry.Type)))
		return nil
	}
	session := receiptLog.find(sessionID)
	if session == nil {
		delete(receiptLog.active, sessionKey)
		return fmt.Errorf("%w: session %s missing from record", ErrIndexInconsistent, sessionID)
	}
	session.Entries = append([]ReceiptEntry{entry}, session.Entries...)
	if err := receiptLog.persist(ctx); err != nil {
		session.Entries = session.Entries[1:]
		return err
	}
	return nil
}

// CloseSession removes key from the active index. Persisted entries stay.
func (receiptLog *ReceiptLog) CloseSession(sessionKey string) error {
	if _, ok := receiptLog.active[sessionKey]; !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotOpen, sessionKey)
	}
	delete(receiptLog.active, sessionKey)
	return nil
}

// IsOpen reports whether key has an active session.
func (receiptLog *ReceiptLog) IsOpen(sessionKey string) bool {
	_, ok := receiptLog.active[sessionKey]
	return ok
}

// Sessions returns every session, most recent first.
func (receiptLog *ReceiptLog) Sessions() []ReceiptSession {
	return receiptLog.record.Receipts
}

func (receiptLog *ReceiptLog) find(sessionID string) *ReceiptSession {
	for index := range receiptLog.record.Receipts {
		if receiptLog.record.Receipts[index].ID == sessionID {
			return &receiptLog.record.Receipts[index]
		}
	}
	return nil
}
