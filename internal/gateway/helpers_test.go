package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/terminus/internal/store/filestore"
	"github.com/MarkoPoloResearchLab/terminus/pkg/ledger"
)

const listenAddress = "ws://127.0.0.1:11058"

type testClock struct {
	mutex sync.Mutex
	now   time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2021, time.March, 4, 12, 0, 0, 0, time.UTC)}
}

func (clock *testClock) Now() time.Time {
	clock.mutex.Lock()
	defer clock.mutex.Unlock()
	return clock.now
}

func (clock *testClock) Advance(duration time.Duration) {
	clock.mutex.Lock()
	defer clock.mutex.Unlock()
	clock.now = clock.now.Add(duration)
}

type fakeDecoder struct {
	invoices map[string]ledger.Invoice
}

func (decoder *fakeDecoder) Decode(bolt11 string) (ledger.Invoice, error) {
	invoice, ok := decoder.invoices[bolt11]
	if !ok {
		return ledger.Invoice{}, fmt.Errorf("%w: %s", ledger.ErrInvalidInvoice, bolt11)
	}
	return invoice, nil
}

// fakeNode issues invoices the fakeDecoder understands and remembers their
// preimages so tests can settle them.
type fakeNode struct {
	clock         *testClock
	decoder       *fakeDecoder
	issued        int
	preimages     map[string]string
	fixedPreimage string
	invoiceError  error
	payment       Payment
	payError      error
	payCalls      []string
}

func (node *fakeNode) CreateInvoice(_ context.Context, msats int64) (string, error) {
	if node.invoiceError != nil {
		return "", node.invoiceError
	}
	node.issued++
	preimage := node.fixedPreimage
	if preimage == "" {
		preimage = fmt.Sprintf("%064x", node.issued)
	}
	paymentHash, err := ledger.PaymentHashFromPreimage(preimage)
	if err != nil {
		return "", err
	}
	bolt11 := fmt.Sprintf("lnbcrt%dn1invoice%d", msats, node.issued)
	node.decoder.invoices[bolt11] = ledger.Invoice{
		Bolt11:      bolt11,
		PaymentHash: paymentHash,
		Msats:       msats,
		HasAmount:   true,
		CreatedAt:   node.clock.Now(),
		Expiry:      time.Hour,
	}
	node.preimages[bolt11] = preimage
	return bolt11, nil
}

func (node *fakeNode) PayInvoice(_ context.Context, bolt11 string, _ string) (Payment, error) {
	node.payCalls = append(node.payCalls, bolt11)
	if node.payError != nil {
		return Payment{}, node.payError
	}
	return node.payment, nil
}

type fakeAttempt struct {
	state ledger.ConnectionState
}

func (attempt *fakeAttempt) State() ledger.ConnectionState {
	return attempt.state
}

type notification struct {
	kind      string
	seeds     []ledger.SharedSeed
	payload   string
	requestID string
}

type fakeProvider struct {
	attempts         map[ledger.SharedSeed]*fakeAttempt
	connects         []ledger.SharedSeed
	disconnects      []ledger.SharedSeed
	localConnects    []ledger.SharedSeed
	localDisconnects []ledger.SharedSeed
	notifications    []notification
	connectError     error
	localError       error
	notifyError      error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{attempts: map[ledger.SharedSeed]*fakeAttempt{}}
}

func (provider *fakeProvider) Connect(_ context.Context, _ ledger.Location, seed ledger.SharedSeed) (ledger.ConnectionAttempt, error) {
	if provider.connectError != nil {
		return nil, provider.connectError
	}
	provider.connects = append(provider.connects, seed)
	attempt := &fakeAttempt{state: ledger.ConnectionStateConnecting}
	provider.attempts[seed] = attempt
	return attempt, nil
}

func (provider *fakeProvider) Disconnect(_ context.Context, seed ledger.SharedSeed) error {
	provider.disconnects = append(provider.disconnects, seed)
	return nil
}

func (provider *fakeProvider) LocalConnect(_ context.Context, seed ledger.SharedSeed) error {
	if provider.localError != nil {
		return provider.localError
	}
	provider.localConnects = append(provider.localConnects, seed)
	return nil
}

func (provider *fakeProvider) LocalDisconnect(_ context.Context, seed ledger.SharedSeed) error {
	provider.localDisconnects = append(provider.localDisconnects, seed)
	return nil
}

func (provider *fakeProvider) NotifyPreimage(_ context.Context, seeds []ledger.SharedSeed, preimage string, requestID string) error {
	provider.notifications = append(provider.notifications, notification{kind: "preimage", seeds: seeds, payload: preimage, requestID: requestID})
	return provider.notifyError
}

func (provider *fakeProvider) NotifyInvoice(_ context.Context, seeds []ledger.SharedSeed, bolt11 string, requestID string) error {
	provider.notifications = append(provider.notifications, notification{kind: "invoice", seeds: seeds, payload: bolt11, requestID: requestID})
	return provider.notifyError
}

func (provider *fakeProvider) NotifyError(_ context.Context, seeds []ledger.SharedSeed, message string, requestID string) error {
	provider.notifications = append(provider.notifications, notification{kind: "error", seeds: seeds, payload: message, requestID: requestID})
	return provider.notifyError
}

func (provider *fakeProvider) ListenLocations() []ledger.Location {
	return []ledger.Location{{Type: ledger.LocationTypeWebSocket, Address: listenAddress}}
}

func (provider *fakeProvider) last(kind string) (notification, bool) {
	for index := len(provider.notifications) - 1; index >= 0; index-- {
		if provider.notifications[index].kind == kind {
			return provider.notifications[index], true
		}
	}
	return notification{}, false
}

type fakeNexus struct {
	seed ledger.SharedSeed
}

func (nexus fakeNexus) SharedSeed() ledger.SharedSeed {
	return nexus.seed
}

type harness struct {
	gateway  *Gateway
	store    *filestore.Store
	clock    *testClock
	decoder  *fakeDecoder
	node     *fakeNode
	provider *fakeProvider
}

func newHarness(test *testing.T) *harness {
	test.Helper()
	store, err := filestore.New(test.TempDir())
	if err != nil {
		test.Fatalf("store: %v", err)
	}
	return newHarnessWithStore(test, store)
}

func newHarnessWithStore(test *testing.T, store *filestore.Store) *harness {
	test.Helper()
	clock := newTestClock()
	decoder := &fakeDecoder{invoices: map[string]ledger.Invoice{}}
	node := &fakeNode{clock: clock, decoder: decoder, preimages: map[string]string{}}
	provider := newFakeProvider()
	dependencies := ledger.Dependencies{Store: store, Decoder: decoder, Now: clock.Now}
	gateway, err := New(dependencies, node, provider)
	if err != nil {
		test.Fatalf("gateway: %v", err)
	}
	return &harness{gateway: gateway, store: store, clock: clock, decoder: decoder, node: node, provider: provider}
}

func (harness *harness) mustCreate(test *testing.T, msats string, base string, capRaw string) string {
	test.Helper()
	result, err := harness.gateway.Create(context.Background(), msats, base, capRaw)
	if err != nil {
		test.Fatalf("create %s: %v", base, err)
	}
	return result.Name
}

// mustListenAndAnnounce attaches a fresh incoming seed and opens its session.
func (harness *harness) mustListenAndAnnounce(test *testing.T, name string) ledger.SharedSeed {
	test.Helper()
	result, err := harness.gateway.Listen(context.Background(), name, "")
	if err != nil {
		test.Fatalf("listen: %v", err)
	}
	beacon, err := ledger.DecodeBeacon(result.Beacon)
	if err != nil {
		test.Fatalf("decode beacon: %v", err)
	}
	if err := harness.gateway.OnAnnounce(context.Background(), fakeNexus{seed: beacon.SharedSeed}); err != nil {
		test.Fatalf("announce: %v", err)
	}
	return beacon.SharedSeed
}

func (harness *harness) account(test *testing.T, name string) *ledger.Account {
	test.Helper()
	account, ok := harness.gateway.directory.LookupByName(name)
	if !ok {
		test.Fatalf("account %s not in directory", name)
	}
	return account
}

func mustBeacon(test *testing.T, seedHex string, address string) string {
	test.Helper()
	seed, err := ledger.ParseSharedSeed(seedHex)
	if err != nil {
		test.Fatalf("seed: %v", err)
	}
	encoded, err := ledger.NewBeacon(seed, ledger.Location{Type: ledger.LocationTypeWebSocket, Address: address}).Encode()
	if err != nil {
		test.Fatalf("beacon: %v", err)
	}
	return encoded
}

func receiptTypes(session ledger.ReceiptSession) []ledger.ReceiptEntryType {
	types := make([]ledger.ReceiptEntryType, 0, len(session.Entries))
	for _, entry := range session.Entries {
		types = append(types, entry.Type)
	}
	return types
}

var errNodeDown = errors.New("no route found")
