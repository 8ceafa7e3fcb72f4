package gateway

import (
	"context"
	"time"

	"github.com/MarkoPoloResearchLab/terminus/pkg/ledger"
	"go.uber.org/zap"
)

// LoadPersisted reads every persisted account into the directory and
// reconnects its beacons and shared seeds.
func (gateway *Gateway) LoadPersisted(ctx context.Context) error {
	gateway.mutex.Lock()
	defer gateway.mutex.Unlock()

	accounts, err := ledger.LoadAllAccounts(ctx, gateway.dependencies)
	if err != nil {
		return err
	}
	for _, account := range accounts {
		if err := gateway.directory.Add(account); err != nil {
			gateway.logger.Error("load account", zap.String("account", account.Name()), zap.Error(err))
		}
		for _, beacon := range account.Beacons() {
			gateway.dialBeacon(ctx, account, beacon)
		}
		for _, seed := range account.SharedSeeds() {
			gateway.listenSeed(ctx, seed)
		}
	}
	gateway.logger.Info("accounts loaded", zap.Int("accounts", gateway.directory.Len()))
	return nil
}

// RetryConnections redials every outgoing beacon whose attempt reports
// disconnected and re-registers every disconnected local seed.
func (gateway *Gateway) RetryConnections(ctx context.Context) {
	gateway.mutex.Lock()
	defer gateway.mutex.Unlock()

	for _, account := range gateway.directory.Accounts() {
		for _, beacon := range account.DisconnectedBeacons() {
			gateway.dialBeacon(ctx, account, beacon)
		}
	}
	for _, seed := range gateway.tracker.Disconnected() {
		gateway.listenSeed(ctx, seed)
	}
}

// PruneExpiredPending drops expired pending invoices from every account.
func (gateway *Gateway) PruneExpiredPending(ctx context.Context) {
	gateway.mutex.Lock()
	defer gateway.mutex.Unlock()

	for _, account := range gateway.directory.Accounts() {
		removed, err := account.PruneExpired(ctx)
		if err != nil {
			gateway.logger.Error("prune expired pending", zap.String("account", account.Name()), zap.Error(err))
			continue
		}
		if len(removed) > 0 {
			gateway.logger.Info("pruned expired invoices", zap.String("account", account.Name()), zap.Strings("payment_hashes", removed))
			gateway.reindex(account)
		}
	}
}

// PendingPaymentHashes lists the payment hash of every pending invoice across
// all accounts.
func (gateway *Gateway) PendingPaymentHashes() []string {
	gateway.mutex.Lock()
	defer gateway.mutex.Unlock()

	hashes := []string{}
	for _, account := range gateway.directory.Accounts() {
		hashes = append(hashes, account.PendingHashes()...)
	}
	return hashes
}

// Run loads persisted accounts and then drives the ticks until ctx is
// cancelled.
func (gateway *Gateway) Run(ctx context.Context) error {
	if err := gateway.LoadPersisted(ctx); err != nil {
		return err
	}
	return gateway.RunTicks(ctx)
}

// RunTicks drives the retry and prune ticks until ctx is cancelled. Ticks
// take the gateway lock, so they never overlap each other or callback
// handling.
func (gateway *Gateway) RunTicks(ctx context.Context) error {
	retryTicker := time.NewTicker(gateway.retryInterval)
	defer retryTicker.Stop()
	pruneTicker := time.NewTicker(gateway.pruneInterval)
	defer pruneTicker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-retryTicker.C:
			gateway.RetryConnections(ctx)
		case <-pruneTicker.C:
			gateway.PruneExpiredPending(ctx)
		}
	}
}

func (gateway *Gateway) dialBeacon(ctx context.Context, account *ledger.Account, beacon ledger.Beacon) {
	location, err := beacon.FirstLocation()
	if err == nil && !location.IsWebSocket() {
		err = ledger.ErrUnsupportedLocation
	}
	if err != nil {
		gateway.logger.Error("beacon not dialable", zap.String("account", account.Name()), zap.String("beacon", beacon.String()), zap.Error(err))
		return
	}
	attempt, err := gateway.provider.Connect(ctx, location, beacon.SharedSeed)
	if err != nil {
		gateway.logger.Warn("connect beacon", zap.String("account", account.Name()), zap.Error(err))
		return
	}
	account.AddConnectionAttempt(beacon, attempt)
}

func (gateway *Gateway) listenSeed(ctx context.Context, seed ledger.SharedSeed) {
	if err := gateway.provider.LocalConnect(ctx, seed); err != nil {
		gateway.logger.Warn("local connect", zap.String("shared_seed", seed.String()), zap.Error(err))
		gateway.tracker.SetConnecting(seed)
		gateway.tracker.SetDisconnected(seed)
		return
	}
	gateway.tracker.SetConnecting(seed)
}
