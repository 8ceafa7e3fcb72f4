package ledger

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"
)

var fixedNow = time.Date(2021, time.March, 4, 12, 0, 0, 0, time.UTC)

type stubStore struct {
	records      map[string]Record
	persistCalls int
	persistError error
	deleteError  error
}

func newStubStore(test *testing.T) *stubStore {
	test.Helper()
	return &stubStore{records: map[string]Record{}}
}

func (store *stubStore) Load(_ context.Context, name string) (Record, error) {
	record, ok := store.records[name]
	if !ok {
		return Record{}, ErrAccountNotFound
	}
	return record.clone(), nil
}

func (store *stubStore) Create(_ context.Context, name string) (Record, error) {
	if record, ok := store.records[name]; ok {
		return record.clone(), nil
	}
	record := NewRecord(name, "uuid-"+name)
	store.records[name] = record
	return record.clone(), nil
}

func (store *stubStore) Persist(_ context.Context, record Record) error {
	store.persistCalls++
	if store.persistError != nil {
		return store.persistError
	}
	store.records[record.Name] = record.clone()
	return nil
}

func (store *stubStore) Delete(_ context.Context, name string) error {
	if store.deleteError != nil {
		return store.deleteError
	}
	delete(store.records, name)
	return nil
}

func (store *stubStore) List(_ context.Context) ([]string, error) {
	names := make([]string, 0, len(store.records))
	for name := range store.records {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// stubDecoder knows invoices registered by tests.
type stubDecoder struct {
	invoices map[string]Invoice
}

func newStubDecoder() *stubDecoder {
	return &stubDecoder{invoices: map[string]Invoice{}}
}

func (decoder *stubDecoder) Decode(bolt11 string) (Invoice, error) {
	invoice, ok := decoder.invoices[bolt11]
	if !ok {
		return Invoice{}, errors.New("unknown invoice")
	}
	return invoice, nil
}

func (decoder *stubDecoder) add(bolt11 string, paymentHash string, msats int64, createdAt time.Time, expiry time.Duration) {
	decoder.invoices[bolt11] = Invoice{
		Bolt11:      bolt11,
		PaymentHash: paymentHash,
		Msats:       msats,
		HasAmount:   true,
		CreatedAt:   createdAt,
		Expiry:      expiry,
	}
}

type stubAttempt struct {
	state ConnectionState
}

func (attempt *stubAttempt) State() ConnectionState {
	return attempt.state
}

func testDependencies(store Store, decoder InvoiceDecoder) Dependencies {
	return Dependencies{
		Store:   store,
		Decoder: decoder,
		Now:     func() time.Time { return fixedNow },
	}
}

func mustCreateAccount(test *testing.T, store Store, decoder InvoiceDecoder, name string) *Account {
	test.Helper()
	account, err := CreateAccount(context.Background(), testDependencies(store, decoder), name)
	if err != nil {
		test.Fatalf("create account %s: %v", name, err)
	}
	return account
}

func mustSharedSeed(test *testing.T, raw string) SharedSeed {
	test.Helper()
	seed, err := ParseSharedSeed(raw)
	if err != nil {
		test.Fatalf("parse shared seed: %v", err)
	}
	return seed
}

func mustWebSocketLocation(test *testing.T, raw string) Location {
	test.Helper()
	location, err := NewWebSocketLocation(raw)
	if err != nil {
		test.Fatalf("location: %v", err)
	}
	return location
}
