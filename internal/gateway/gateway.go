package gateway

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MarkoPoloResearchLab/terminus/pkg/ledger"
	"go.uber.org/zap"
)

const (
	DefaultMaxBeacons    = 3
	DefaultRetryInterval = 5 * time.Second
	DefaultPruneInterval = 3 * time.Second

	collaboratorNode     = "node"
	collaboratorProvider = "provider"
)

var errInvalidGatewayConfig = errors.New("invalid gateway config")

// Gateway owns the live account set and serializes every event that touches
// it: provider callbacks, node callbacks, admin operations and the periodic
// retry and prune ticks.
type Gateway struct {
	mutex         sync.Mutex
	dependencies  ledger.Dependencies
	node          NodeClient
	provider      ProviderStack
	directory     *ledger.Directory
	tracker       *ConnectionStateTracker
	logger        *zap.Logger
	maxBeacons    int
	retryInterval time.Duration
	pruneInterval time.Duration
}

// Option customises a Gateway.
type Option func(*Gateway)

// WithLogger sets the gateway logger. Accounts inherit it unless the
// dependencies carry their own.
func WithLogger(logger *zap.Logger) Option {
	return func(gateway *Gateway) {
		if logger != nil {
			gateway.logger = logger
		}
	}
}

// WithMaxBeacons limits the outgoing beacons per account.
func WithMaxBeacons(maxBeacons int) Option {
	return func(gateway *Gateway) {
		gateway.maxBeacons = maxBeacons
	}
}

// WithRetryInterval sets the connection retry tick.
func WithRetryInterval(interval time.Duration) Option {
	return func(gateway *Gateway) {
		gateway.retryInterval = interval
	}
}

// WithPruneInterval sets the expired invoice prune tick.
func WithPruneInterval(interval time.Duration) Option {
	return func(gateway *Gateway) {
		gateway.pruneInterval = interval
	}
}

// New constructs a Gateway with no accounts loaded.
func New(dependencies ledger.Dependencies, node NodeClient, provider ProviderStack, options ...Option) (*Gateway, error) {
	if node == nil {
		return nil, fmt.Errorf("%w: node client is nil", errInvalidGatewayConfig)
	}
	if provider == nil {
		return nil, fmt.Errorf("%w: provider stack is nil", errInvalidGatewayConfig)
	}
	gateway := &Gateway{
		node:          node,
		provider:      provider,
		directory:     ledger.NewDirectory(),
		tracker:       NewConnectionStateTracker(),
		logger:        zap.NewNop(),
		maxBeacons:    DefaultMaxBeacons,
		retryInterval: DefaultRetryInterval,
		pruneInterval: DefaultPruneInterval,
	}
	for _, option := range options {
		option(gateway)
	}
	if gateway.maxBeacons <= 0 {
		return nil, fmt.Errorf("%w: max beacons must be positive", errInvalidGatewayConfig)
	}
	if gateway.retryInterval <= 0 || gateway.pruneInterval <= 0 {
		return nil, fmt.Errorf("%w: tick intervals must be positive", errInvalidGatewayConfig)
	}
	if dependencies.Logger == nil {
		dependencies.Logger = gateway.logger
	}
	if dependencies.Now == nil {
		dependencies.Now = time.Now
	}
	gateway.dependencies = dependencies
	if err := dependencies.Validate(); err != nil {
		return nil, err
	}
	return gateway, nil
}

func (gateway *Gateway) reindex(account *ledger.Account) {
	if err := gateway.directory.Reindex(account); err != nil {
		gateway.logger.Error("account index inconsistent", zap.String("account", account.Name()), zap.Error(err))
	}
}

func (gateway *Gateway) lookupAccount(name string) (*ledger.Account, error) {
	account, ok := gateway.directory.LookupByName(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ledger.ErrUnknownAccount, name)
	}
	return account, nil
}

func (gateway *Gateway) lookupSeed(seed ledger.SharedSeed) (*ledger.Account, error) {
	account, ok := gateway.directory.LookupBySeed(seed)
	if !ok {
		gateway.logger.Error("shared seed not from known account", zap.String("shared_seed", seed.String()))
		return nil, fmt.Errorf("%w: %s", ledger.ErrUnknownSharedSeed, seed)
	}
	return account, nil
}
