package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ConnectionState is the lifecycle state of a connection attempt or local seed.
type ConnectionState string

const (
	ConnectionStateConnecting   ConnectionState = "connecting"
	ConnectionStateConnected    ConnectionState = "connected"
	ConnectionStateDisconnected ConnectionState = "disconnected"
)

// ConnectionAttempt is the provider stack's handle for an outgoing connection.
// The account only references it; the provider stack owns it.
type ConnectionAttempt interface {
	State() ConnectionState
}

// Dependencies are the collaborators every Account needs.
type Dependencies struct {
	Store           Store
	Decoder         InvoiceDecoder
	Now             func() time.Time
	Logger          *zap.Logger
	OperationLogger OperationLogger
}

// Validate reports a missing collaborator.
func (dependencies Dependencies) Validate() error {
	if dependencies.Store == nil {
		return fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if dependencies.Decoder == nil {
		return fmt.Errorf("%w: invoice decoder dependency is nil", ErrInvalidServiceConfig)
	}
	if dependencies.Now == nil {
		return fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	return nil
}

// Account is the in-memory façade over one persisted record. Every mutation
// of ledger state goes through its methods. Account is not safe for
// concurrent use; callers serialize access.
type Account struct {
	record             Record
	store              Store
	decoder            InvoiceDecoder
	nowFn              func() time.Time
	logger             *zap.Logger
	operationLogger    OperationLogger
	receipts           *ReceiptLog
	connectionAttempts map[string]ConnectionAttempt
}

// NewAccount wraps an already loaded record.
func NewAccount(dependencies Dependencies, record Record) (*Account, error) {
	if err := dependencies.Validate(); err != nil {
		return nil, err
	}
	record.Normalize()
	if err := record.Validate(); err != nil {
		return nil, err
	}
	logger := dependencies.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	account := &Account{
		record:             record,
		store:              dependencies.Store,
		decoder:            dependencies.Decoder,
		nowFn:              dependencies.Now,
		logger:             logger.With(zap.String("account", record.Name)),
		operationLogger:    dependencies.OperationLogger,
		connectionAttempts: map[string]ConnectionAttempt{},
	}
	account.receipts = NewReceiptLog(&account.record, account.persist, account.logger)
	return account, nil
}

// CreateAccount creates (or reopens) the record for name.
func CreateAccount(ctx context.Context, dependencies Dependencies, name string) (*Account, error) {
	if err := dependencies.Validate(); err != nil {
		return nil, err
	}
	normalized, err := NewAccountName(name)
	if err != nil {
		return nil, err
	}
	record, err := dependencies.Store.Create(ctx, normalized)
	if err != nil {
		return nil, err
	}
	return NewAccount(dependencies, record)
}

// LoadAccount reads the record for name.
func LoadAccount(ctx context.Context, dependencies Dependencies, name string) (*Account, error) {
	if err := dependencies.Validate(); err != nil {
		return nil, err
	}
	record, err := dependencies.Store.Load(ctx, name)
	if err != nil {
		return nil, err
	}
	return NewAccount(dependencies, record)
}

// LoadAllAccounts reads every persisted record.
func LoadAllAccounts(ctx context.Context, dependencies Dependencies) ([]*Account, error) {
	if err := dependencies.Validate(); err != nil {
		return nil, err
	}
	names, err := dependencies.Store.List(ctx)
	if err != nil {
		return nil, err
	}
	accounts := make([]*Account, 0, len(names))
	for _, name := range names {
		account, err := LoadAccount(ctx, dependencies, name)
		if err != nil {
			return nil, fmt.Errorf("load account %s: %w", name, err)
		}
		accounts = append(accounts, account)
	}
	return accounts, nil
}

// Depersist deletes the persisted record.
func (account *Account) Depersist(ctx context.Context) error {
	if err := account.store.Delete(ctx, account.record.Name); err != nil {
		return WrapError(errorOperationAccount, errorSubjectRecord, errorCodeDelete, err)
	}
	return nil
}

// Name returns the account name.
func (account *Account) Name() string {
	return account.record.Name
}

// UUID returns the stable account uuid.
func (account *Account) UUID() string {
	return account.record.UUID
}

// Wad returns the current balance.
func (account *Account) Wad() Wad {
	return account.record.Wad
}

// Cap returns the spend cap. Zero means unlimited.
func (account *Account) Cap() Wad {
	return account.record.Cap
}

// Record returns a copy of the persisted state.
func (account *Account) Record() Record {
	return account.record.clone()
}

// Receipts returns the receipt sessions, most recent first.
func (account *Account) Receipts() []ReceiptSession {
	return account.record.clone().Receipts
}

// Credit adds wad to the balance.
func (account *Account) Credit(ctx context.Context, wad Wad) error {
	err := account.mutate(ctx, func(record *Record) error {
		if err := validateMovement(wad); err != nil {
			return err
		}
		record.Wad = Bitcoin(record.Wad.Msats + wad.Msats)
		return nil
	})
	account.logOperation(ctx, OperationLog{Operation: operationCredit, Amount: wad, Error: err})
	return err
}

// Debit subtracts wad from the balance. Callers check the balance first since
// the decision needs context Debit does not have; a debit that would drive the
// balance negative is still rejected before any mutation.
func (account *Account) Debit(ctx context.Context, wad Wad) error {
	err := account.mutate(ctx, func(record *Record) error {
		if err := validateMovement(wad); err != nil {
			return err
		}
		if wad.Msats > record.Wad.Msats {
			return fmt.Errorf("%w: debit %d msats exceeds balance %d msats", ErrInsufficientBalance, wad.Msats, record.Wad.Msats)
		}
		record.Wad = Bitcoin(record.Wad.Msats - wad.Msats)
		return nil
	})
	account.logOperation(ctx, OperationLog{Operation: operationDebit, Amount: wad, Error: err})
	return err
}

// SetWad overwrites the balance. Used at creation and for admin correction.
func (account *Account) SetWad(ctx context.Context, wad Wad) error {
	err := account.mutate(ctx, func(record *Record) error {
		if err := validateMovement(wad); err != nil {
			return err
		}
		record.Wad = wad
		return nil
	})
	account.logOperation(ctx, OperationLog{Operation: operationSetWad, Amount: wad, Error: err})
	return err
}

// SetCap overwrites the cap.
func (account *Account) SetCap(ctx context.Context, wad Wad) error {
	err := account.mutate(ctx, func(record *Record) error {
		if err := validateMovement(wad); err != nil {
			return err
		}
		record.Cap = wad
		return nil
	})
	account.logOperation(ctx, OperationLog{Operation: operationSetCap, Amount: wad, Error: err})
	return err
}

// CapAllows reports whether a new invoice for msats can be issued without the
// balance exceeding the cap once every pending invoice settles. Pending
// invoices without an amount or that cannot be decoded count as zero.
func (account *Account) CapAllows(msats int64) bool {
	capMsats := account.record.Cap.Msats
	if capMsats == 0 {
		return true
	}
	if msats < 0 {
		return false
	}
	remaining := capMsats - account.record.Wad.Msats
	for _, paymentHash := range account.PendingHashes() {
		if remaining < 0 {
			return false
		}
		invoice, err := account.decoder.Decode(account.record.Pending[paymentHash])
		if err != nil {
			account.logger.Warn("cannot decode pending invoice", zap.String("payment_hash", paymentHash), zap.Error(err))
			continue
		}
		if invoice.HasAmount {
			if invoice.Msats > remaining {
				return false
			}
			remaining -= invoice.Msats
		}
	}
	return msats <= remaining
}

// AddPending tracks an outstanding invoice by payment hash.
func (account *Account) AddPending(ctx context.Context, paymentHash string, bolt11 string) error {
	err := account.mutate(ctx, func(record *Record) error {
		record.Pending[paymentHash] = bolt11
		return nil
	})
	account.logOperation(ctx, OperationLog{Operation: operationAddPending, PaymentHash: paymentHash, Error: err})
	return err
}

// RemovePending stops tracking an invoice. Unknown hashes are ignored.
func (account *Account) RemovePending(ctx context.Context, paymentHash string) error {
	if _, ok := account.record.Pending[paymentHash]; !ok {
		return nil
	}
	err := account.mutate(ctx, func(record *Record) error {
		delete(record.Pending, paymentHash)
		return nil
	})
	account.logOperation(ctx, OperationLog{Operation: operationRemovePending, PaymentHash: paymentHash, Error: err})
	return err
}

// SettlePending removes the pending invoice for paymentHash and credits wad in
// one persisted step, so a repeated settlement cannot credit twice.
func (account *Account) SettlePending(ctx context.Context, paymentHash string, wad Wad) error {
	err := account.mutate(ctx, func(record *Record) error {
		if err := validateMovement(wad); err != nil {
			return err
		}
		if _, ok := record.Pending[paymentHash]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownPaymentHash, paymentHash)
		}
		delete(record.Pending, paymentHash)
		record.Wad = Bitcoin(record.Wad.Msats + wad.Msats)
		return nil
	})
	account.logOperation(ctx, OperationLog{Operation: operationSettlePending, Amount: wad, PaymentHash: paymentHash, Error: err})
	return err
}

// HasPending reports whether paymentHash is tracked.
func (account *Account) HasPending(paymentHash string) bool {
	_, ok := account.record.Pending[paymentHash]
	return ok
}

// PendingHashes returns the tracked payment hashes in sorted order.
func (account *Account) PendingHashes() []string {
	hashes := make([]string, 0, len(account.record.Pending))
	for paymentHash := range account.record.Pending {
		hashes = append(hashes, paymentHash)
	}
	sort.Strings(hashes)
	return hashes
}

// PruneExpired drops every pending invoice whose created_at + expiry is in the
// past and returns the removed hashes. Invoices that cannot be decoded are kept.
func (account *Account) PruneExpired(ctx context.Context) ([]string, error) {
	now := account.nowFn()
	var expired []string
	for _, paymentHash := range account.PendingHashes() {
		invoice, err := account.decoder.Decode(account.record.Pending[paymentHash])
		if err != nil {
			account.logger.Warn("cannot decode pending invoice", zap.String("payment_hash", paymentHash), zap.Error(err))
			continue
		}
		if invoice.Expired(now) {
			expired = append(expired, paymentHash)
		}
	}
	if len(expired) == 0 {
		return nil, nil
	}
	err := account.mutate(ctx, func(record *Record) error {
		for _, paymentHash := range expired {
			delete(record.Pending, paymentHash)
		}
		return nil
	})
	account.logOperation(ctx, OperationLog{Operation: operationPrunePending, PaymentHash: strings.Join(expired, ","), Error: err})
	if err != nil {
		return nil, err
	}
	return expired, nil
}

// AddBeacon attaches an outgoing beacon.
func (account *Account) AddBeacon(ctx context.Context, beacon Beacon) error {
	encoded, err := beacon.Encode()
	if err != nil {
		return err
	}
	return account.mutate(ctx, func(record *Record) error {
		record.Beacons = append(record.Beacons, encoded)
		return nil
	})
}

// RemoveBeacon detaches an outgoing beacon and forgets its connection attempt.
func (account *Account) RemoveBeacon(ctx context.Context, beacon Beacon) error {
	encoded, err := beacon.Encode()
	if err != nil {
		return err
	}
	err = account.mutate(ctx, func(record *Record) error {
		remaining, removed := removeString(record.Beacons, encoded)
		if !removed {
			return fmt.Errorf("%w: %s", ErrUnknownBeacon, encoded)
		}
		record.Beacons = remaining
		return nil
	})
	if err != nil {
		return err
	}
	delete(account.connectionAttempts, encoded)
	return nil
}

// Beacons returns the outgoing beacons.
func (account *Account) Beacons() []Beacon {
	beacons := make([]Beacon, 0, len(account.record.Beacons))
	for _, encoded := range account.record.Beacons {
		beacon, err := DecodeBeacon(encoded)
		if err != nil {
			account.logger.Error("persisted beacon does not decode", zap.String("beacon", encoded), zap.Error(err))
			continue
		}
		beacons = append(beacons, beacon)
	}
	return beacons
}

// AddSharedSeed attaches an incoming shared seed.
func (account *Account) AddSharedSeed(ctx context.Context, seed SharedSeed) error {
	return account.mutate(ctx, func(record *Record) error {
		for _, existing := range record.SharedSeeds {
			if existing == seed.String() {
				return fmt.Errorf("%w: %s", ErrDuplicateSharedSeed, seed)
			}
		}
		record.SharedSeeds = append(record.SharedSeeds, seed.String())
		return nil
	})
}

// RemoveSharedSeed detaches an incoming shared seed.
func (account *Account) RemoveSharedSeed(ctx context.Context, seed SharedSeed) error {
	return account.mutate(ctx, func(record *Record) error {
		remaining, removed := removeString(record.SharedSeeds, seed.String())
		if !removed {
			return fmt.Errorf("%w: %s", ErrUnknownSharedSeed, seed)
		}
		record.SharedSeeds = remaining
		return nil
	})
}

// SharedSeeds returns the incoming shared seeds.
func (account *Account) SharedSeeds() []SharedSeed {
	seeds := make([]SharedSeed, 0, len(account.record.SharedSeeds))
	for _, encoded := range account.record.SharedSeeds {
		seed, err := ParseSharedSeed(encoded)
		if err != nil {
			account.logger.Error("persisted shared seed does not parse", zap.String("shared_seed", encoded), zap.Error(err))
			continue
		}
		seeds = append(seeds, seed)
	}
	return seeds
}

// AllSharedSeeds returns the incoming seeds plus the seeds of outgoing
// beacons: every channel a notification for this account must reach.
func (account *Account) AllSharedSeeds() []SharedSeed {
	seeds := account.SharedSeeds()
	for _, beacon := range account.Beacons() {
		seeds = append(seeds, beacon.SharedSeed)
	}
	return seeds
}

// AddConnectionAttempt records the provider stack's attempt for beacon.
func (account *Account) AddConnectionAttempt(beacon Beacon, attempt ConnectionAttempt) {
	account.connectionAttempts[beacon.String()] = attempt
}

// ConnectionAttempt returns the attempt recorded for beacon.
func (account *Account) ConnectionAttempt(beacon Beacon) (ConnectionAttempt, bool) {
	attempt, ok := account.connectionAttempts[beacon.String()]
	return attempt, ok
}

// DisconnectedBeacons returns the beacons whose attempt reports disconnected.
// Beacons without an attempt are not included.
func (account *Account) DisconnectedBeacons() []Beacon {
	var disconnected []Beacon
	for _, beacon := range account.Beacons() {
		attempt, ok := account.connectionAttempts[beacon.String()]
		if !ok || attempt == nil {
			continue
		}
		if attempt.State() == ConnectionStateDisconnected {
			disconnected = append(disconnected, beacon)
		}
	}
	return disconnected
}

// NewSession opens a receipt session for seed and records its start.
func (account *Account) NewSession(ctx context.Context, seed SharedSeed) error {
	account.receipts.OpenSession(seed.String())
	return account.receipts.Append(ctx, seed.String(), SessionStartEntry(account.nowFn()))
}

// EndSession records the end of the session for seed and closes it.
func (account *Account) EndSession(ctx context.Context, seed SharedSeed) error {
	appendErr := account.receipts.Append(ctx, seed.String(), SessionEndEntry(account.nowFn()))
	closeErr := account.receipts.CloseSession(seed.String())
	return errors.Join(appendErr, closeErr)
}

// HasOpenSession reports whether seed has an active receipt session.
func (account *Account) HasOpenSession(seed SharedSeed) bool {
	return account.receipts.IsOpen(seed.String())
}

// SessionInvoiceRequested records an invoice request.
func (account *Account) SessionInvoiceRequested(ctx context.Context, seed SharedSeed, wad Wad) error {
	return account.receipts.Append(ctx, seed.String(), InvoiceRequestEntry(account.nowFn(), wad))
}

// SessionPayRequested records a pay request.
func (account *Account) SessionPayRequested(ctx context.Context, seed SharedSeed, bolt11 string, wad Wad) error {
	return account.receipts.Append(ctx, seed.String(), PayRequestEntry(account.nowFn(), bolt11, wad))
}

// SessionPreimageNotified records a preimage sent to the client.
func (account *Account) SessionPreimageNotified(ctx context.Context, seed SharedSeed, preimage string, increment bool, wad Wad) error {
	return account.receipts.Append(ctx, seed.String(), PreimageNotifiedEntry(account.nowFn(), preimage, increment, wad))
}

// SessionInvoiceNotified records an invoice sent to the client.
func (account *Account) SessionInvoiceNotified(ctx context.Context, seed SharedSeed, bolt11 string) error {
	return account.receipts.Append(ctx, seed.String(), InvoiceNotifiedEntry(account.nowFn(), bolt11))
}

// SessionErrorNotified records an error sent to the client.
func (account *Account) SessionErrorNotified(ctx context.Context, seed SharedSeed, message string) error {
	return account.receipts.Append(ctx, seed.String(), ErrorNotifiedEntry(account.nowFn(), message))
}

func (account *Account) persist(ctx context.Context) error {
	if err := account.store.Persist(ctx, account.record); err != nil {
		return WrapError(errorOperationAccount, errorSubjectRecord, errorCodePersist, err)
	}
	return nil
}

// mutate applies change and persists, restoring the previous state if either fails.
func (account *Account) mutate(ctx context.Context, change func(record *Record) error) error {
	snapshot := account.record.clone()
	if err := change(&account.record); err != nil {
		account.record = snapshot
		return err
	}
	if err := account.persist(ctx); err != nil {
		account.record = snapshot
		return err
	}
	return nil
}

func (account *Account) logOperation(ctx context.Context, entry OperationLog) {
	entry.Account = account.record.Name
	logOperation(ctx, account.operationLogger, entry)
}

func validateMovement(wad Wad) error {
	if err := wad.RequireBitcoin(); err != nil {
		return err
	}
	if wad.Msats < 0 {
		return fmt.Errorf("%w: negative msats: %d", ErrInvalidAmount, wad.Msats)
	}
	return nil
}

func removeString(values []string, target string) ([]string, bool) {
	for index, value := range values {
		if value == target {
			remaining := make([]string, 0, len(values)-1)
			remaining = append(remaining, values[:index]...)
			return append(remaining, values[index+1:]...), true
		}
	}
	return values, false
}

func (record Record) clone() Record {
	cloned := record
	cloned.Pending = make(map[string]string, len(record.Pending))
	for paymentHash, bolt11 := range record.Pending {
		cloned.Pending[paymentHash] = bolt11
	}
	cloned.Beacons = append([]string{}, record.Beacons...)
	cloned.SharedSeeds = append([]string{}, record.SharedSeeds...)
	cloned.Receipts = make([]ReceiptSession, len(record.Receipts))
	for index, session := range record.Receipts {
		session.Entries = append([]ReceiptEntry{}, session.Entries...)
		cloned.Receipts[index] = session
	}
	return cloned
}
