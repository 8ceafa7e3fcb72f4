// Package provider holds the in-process end of the provider stack. It tracks
// outgoing connection attempts and local listeners, logs every notification
// addressed to clients and forwards channel announcements and client requests
// to a Listener.
package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/MarkoPoloResearchLab/terminus/internal/gateway"
	"github.com/MarkoPoloResearchLab/terminus/pkg/ledger"
	"go.uber.org/zap"
)

var (
	ErrNoListener   = errors.New("no listener registered")
	ErrUnknownSeed  = errors.New("shared seed not registered with provider")
	errNoLocations  = errors.New("at least one listen location is required")
	errNotWebSocket = errors.New("listen locations must be websocket locations")
)

// Listener receives channel lifecycle events and the requests clients send
// over those channels.
type Listener interface {
	OnAnnounce(ctx context.Context, nexus gateway.Nexus) error
	OnRevoke(ctx context.Context, nexus gateway.Nexus) error
	HandleInvoiceRequest(ctx context.Context, nexus gateway.Nexus, msats int64, requestID string) error
	HandlePayRequest(ctx context.Context, nexus gateway.Nexus, bolt11 string, requestID string) error
	HandleProviderInfoRequest(ctx context.Context, seed ledger.SharedSeed) (ledger.ProviderInfo, error)
}

// Nexus implements gateway.Nexus.
type Nexus struct {
	seed ledger.SharedSeed
}

// SharedSeed returns the seed the channel was opened with.
func (nexus Nexus) SharedSeed() ledger.SharedSeed {
	return nexus.seed
}

// Attempt is an outgoing connection attempt. Its state is updated by the
// transport as the connection comes and goes.
type Attempt struct {
	mutex    sync.Mutex
	location ledger.Location
	state    ledger.ConnectionState
}

func (attempt *Attempt) State() ledger.ConnectionState {
	attempt.mutex.Lock()
	defer attempt.mutex.Unlock()
	return attempt.state
}

func (attempt *Attempt) setState(state ledger.ConnectionState) {
	attempt.mutex.Lock()
	defer attempt.mutex.Unlock()
	attempt.state = state
}

func (attempt *Attempt) String() string {
	return fmt.Sprintf("%s (%s)", attempt.location, attempt.State())
}

var _ gateway.ProviderStack = (*Stack)(nil)

// Stack is the provider stack used by the daemon.
type Stack struct {
	mutex     sync.Mutex
	locations []ledger.Location
	attempts  map[ledger.SharedSeed]*Attempt
	local     map[ledger.SharedSeed]struct{}
	listener  Listener
	logger    *zap.Logger
}

// Option configures a Stack.
type Option func(*Stack)

// WithLogger sets the stack logger.
func WithLogger(logger *zap.Logger) Option {
	return func(stack *Stack) {
		if logger != nil {
			stack.logger = logger
		}
	}
}

// New returns a Stack advertising locations in incoming beacons.
func New(locations []ledger.Location, options ...Option) (*Stack, error) {
	if len(locations) == 0 {
		return nil, fmt.Errorf("%w: %w", ledger.ErrInvalidServiceConfig, errNoLocations)
	}
	for _, location := range locations {
		if !location.IsWebSocket() {
			return nil, fmt.Errorf("%w: %w: %s", ledger.ErrInvalidServiceConfig, errNotWebSocket, location)
		}
	}
	stack := &Stack{
		locations: append([]ledger.Location(nil), locations...),
		attempts:  map[ledger.SharedSeed]*Attempt{},
		local:     map[ledger.SharedSeed]struct{}{},
		logger:    zap.NewNop(),
	}
	for _, option := range options {
		option(stack)
	}
	return stack, nil
}

// SetListener registers the receiver of channel events and client requests.
func (stack *Stack) SetListener(listener Listener) {
	stack.mutex.Lock()
	defer stack.mutex.Unlock()
	stack.listener = listener
}

func (stack *Stack) Connect(_ context.Context, location ledger.Location, seed ledger.SharedSeed) (ledger.ConnectionAttempt, error) {
	stack.mutex.Lock()
	defer stack.mutex.Unlock()
	attempt := &Attempt{location: location, state: ledger.ConnectionStateConnecting}
	stack.attempts[seed] = attempt
	stack.logger.Info("connecting", zap.Stringer("location", location), zap.Stringer("shared_seed", seed))
	return attempt, nil
}

func (stack *Stack) Disconnect(_ context.Context, seed ledger.SharedSeed) error {
	stack.mutex.Lock()
	defer stack.mutex.Unlock()
	attempt, ok := stack.attempts[seed]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSeed, seed)
	}
	attempt.setState(ledger.ConnectionStateDisconnected)
	delete(stack.attempts, seed)
	stack.logger.Info("disconnected", zap.Stringer("shared_seed", seed))
	return nil
}

func (stack *Stack) LocalConnect(_ context.Context, seed ledger.SharedSeed) error {
	stack.mutex.Lock()
	defer stack.mutex.Unlock()
	stack.local[seed] = struct{}{}
	stack.logger.Info("listening", zap.Stringer("shared_seed", seed))
	return nil
}

func (stack *Stack) LocalDisconnect(_ context.Context, seed ledger.SharedSeed) error {
	stack.mutex.Lock()
	defer stack.mutex.Unlock()
	if _, ok := stack.local[seed]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSeed, seed)
	}
	delete(stack.local, seed)
	stack.logger.Info("stopped listening", zap.Stringer("shared_seed", seed))
	return nil
}

func (stack *Stack) NotifyPreimage(_ context.Context, seeds []ledger.SharedSeed, preimage string, requestID string) error {
	stack.logNotification("preimage", seeds, requestID, zap.String("preimage", preimage))
	return nil
}

func (stack *Stack) NotifyInvoice(_ context.Context, seeds []ledger.SharedSeed, bolt11 string, requestID string) error {
	stack.logNotification("invoice", seeds, requestID, zap.String("bolt11", bolt11))
	return nil
}

func (stack *Stack) NotifyError(_ context.Context, seeds []ledger.SharedSeed, message string, requestID string) error {
	stack.logNotification("error", seeds, requestID, zap.String("error", message))
	return nil
}

func (stack *Stack) ListenLocations() []ledger.Location {
	return append([]ledger.Location(nil), stack.locations...)
}

// Announce marks the channel for seed as up and tells the listener.
func (stack *Stack) Announce(ctx context.Context, seed ledger.SharedSeed) error {
	listener, err := stack.transition(seed, ledger.ConnectionStateConnected)
	if err != nil {
		return err
	}
	return listener.OnAnnounce(ctx, Nexus{seed: seed})
}

// Revoke marks the channel for seed as down and tells the listener.
func (stack *Stack) Revoke(ctx context.Context, seed ledger.SharedSeed) error {
	listener, err := stack.transition(seed, ledger.ConnectionStateDisconnected)
	if err != nil {
		return err
	}
	return listener.OnRevoke(ctx, Nexus{seed: seed})
}

// RequestInvoice routes a client's invoice request on the channel for seed.
func (stack *Stack) RequestInvoice(ctx context.Context, seed ledger.SharedSeed, msats int64, requestID string) error {
	listener, err := stack.route(seed)
	if err != nil {
		return err
	}
	stack.logger.Debug("invoice request", zap.Stringer("shared_seed", seed), zap.Int64("msats", msats), zap.String("request_id", requestID))
	return listener.HandleInvoiceRequest(ctx, Nexus{seed: seed}, msats, requestID)
}

// RequestPay routes a client's pay request on the channel for seed.
func (stack *Stack) RequestPay(ctx context.Context, seed ledger.SharedSeed, bolt11 string, requestID string) error {
	listener, err := stack.route(seed)
	if err != nil {
		return err
	}
	stack.logger.Debug("pay request", zap.Stringer("shared_seed", seed), zap.String("request_id", requestID))
	return listener.HandlePayRequest(ctx, Nexus{seed: seed}, bolt11, requestID)
}

// RequestProviderInfo routes a client's provider info request on the channel
// for seed.
func (stack *Stack) RequestProviderInfo(ctx context.Context, seed ledger.SharedSeed) (ledger.ProviderInfo, error) {
	listener, err := stack.route(seed)
	if err != nil {
		return ledger.ProviderInfo{}, err
	}
	return listener.HandleProviderInfoRequest(ctx, seed)
}

// Seeds returns every seed the stack dials or listens for.
func (stack *Stack) Seeds() []ledger.SharedSeed {
	stack.mutex.Lock()
	defer stack.mutex.Unlock()
	seeds := make([]ledger.SharedSeed, 0, len(stack.attempts)+len(stack.local))
	for seed := range stack.attempts {
		seeds = append(seeds, seed)
	}
	for seed := range stack.local {
		seeds = append(seeds, seed)
	}
	sort.Slice(seeds, func(left, right int) bool {
		return seeds[left].String() < seeds[right].String()
	})
	return seeds
}

func (stack *Stack) transition(seed ledger.SharedSeed, state ledger.ConnectionState) (Listener, error) {
	stack.mutex.Lock()
	defer stack.mutex.Unlock()
	if err := stack.checkRoutable(seed); err != nil {
		return nil, err
	}
	if attempt, outgoing := stack.attempts[seed]; outgoing {
		attempt.setState(state)
	}
	return stack.listener, nil
}

func (stack *Stack) route(seed ledger.SharedSeed) (Listener, error) {
	stack.mutex.Lock()
	defer stack.mutex.Unlock()
	if err := stack.checkRoutable(seed); err != nil {
		return nil, err
	}
	return stack.listener, nil
}

// checkRoutable must be called with the stack mutex held.
func (stack *Stack) checkRoutable(seed ledger.SharedSeed) error {
	if stack.listener == nil {
		return ErrNoListener
	}
	_, outgoing := stack.attempts[seed]
	_, local := stack.local[seed]
	if !outgoing && !local {
		return fmt.Errorf("%w: %s", ErrUnknownSeed, seed)
	}
	return nil
}

func (stack *Stack) logNotification(kind string, seeds []ledger.SharedSeed, requestID string, payload zap.Field) {
	names := make([]string, 0, len(seeds))
	for _, seed := range seeds {
		names = append(names, seed.String())
	}
	stack.logger.Info("notify",
		zap.String("kind", kind),
		zap.Strings("shared_seeds", names),
		zap.String("request_id", requestID),
		payload,
	)
}
