package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MarkoPoloResearchLab/terminus/pkg/ledger"
	"go.uber.org/zap"
)

// CreateResult describes a newly created account.
type CreateResult struct {
	Name string
	Wad  ledger.Wad
	Cap  ledger.Wad
}

// ConnectResult describes an outgoing beacon connection.
type ConnectResult struct {
	Name     string
	Location string
}

// ListenResult carries the incoming beacon a client uses to reach the account.
type ListenResult struct {
	Name   string
	Beacon string
}

// Info lists every account.
type Info struct {
	Accounts []ledger.AccountAttributes
	Summary  string
}

// Create allocates a fresh account named after base. msats and capRaw are
// decimal millisatoshi strings; a cap of "none" means unlimited.
func (gateway *Gateway) Create(ctx context.Context, msats string, base string, capRaw string) (CreateResult, error) {
	gateway.mutex.Lock()
	defer gateway.mutex.Unlock()

	wad, err := ledger.ParseBitcoinMsats(msats)
	if err != nil {
		return CreateResult{}, err
	}
	capWad, err := ledger.ParseCap(capRaw)
	if err != nil {
		return CreateResult{}, err
	}
	base, err = ledger.NewAccountName(base)
	if err != nil {
		return CreateResult{}, err
	}
	name := gateway.generateAccountName(base)
	if _, err := gateway.dependencies.Store.Load(ctx, name); err == nil {
		return CreateResult{}, fmt.Errorf("%w: %s is persisted but not loaded", ledger.ErrAccountExists, name)
	} else if !errors.Is(err, ledger.ErrAccountNotFound) {
		return CreateResult{}, err
	}
	account, err := ledger.CreateAccount(ctx, gateway.dependencies, name)
	if err != nil {
		return CreateResult{}, err
	}
	if err := account.SetWad(ctx, wad); err != nil {
		return CreateResult{}, err
	}
	if err := account.SetCap(ctx, capWad); err != nil {
		return CreateResult{}, err
	}
	if err := gateway.directory.Add(account); err != nil {
		return CreateResult{}, err
	}
	gateway.logger.Info("account created", zap.String("account", name), zap.Stringer("wad", wad), zap.Stringer("cap", capWad))
	return CreateResult{Name: name, Wad: wad, Cap: capWad}, nil
}

func (gateway *Gateway) generateAccountName(base string) string {
	for index := 0; ; index++ {
		candidate := fmt.Sprintf("%s-%d", base, index)
		if _, taken := gateway.directory.LookupByName(candidate); !taken {
			return candidate
		}
	}
}

// Remove deletes an account that has no beacons or shared seeds attached.
func (gateway *Gateway) Remove(ctx context.Context, name string) error {
	gateway.mutex.Lock()
	defer gateway.mutex.Unlock()

	account, err := gateway.lookupAccount(name)
	if err != nil {
		return err
	}
	if len(account.AllSharedSeeds()) > 0 {
		return fmt.Errorf("%w: %s", ledger.ErrAccountHasConnections, name)
	}
	if err := account.Depersist(ctx); err != nil {
		return err
	}
	gateway.directory.Remove(account)
	gateway.logger.Info("account removed", zap.String("account", name))
	return nil
}

// Connect attaches an outgoing beacon to the account and dials its first location.
func (gateway *Gateway) Connect(ctx context.Context, name string, rawBeacon string) (ConnectResult, error) {
	gateway.mutex.Lock()
	defer gateway.mutex.Unlock()

	account, err := gateway.lookupAccount(name)
	if err != nil {
		return ConnectResult{}, err
	}
	beacon, err := ledger.DecodeBeacon(rawBeacon)
	if err != nil {
		return ConnectResult{}, fmt.Errorf("could not decode beacon: %w", err)
	}
	location, err := beacon.FirstLocation()
	if err != nil {
		return ConnectResult{}, err
	}
	if !location.IsWebSocket() {
		return ConnectResult{}, ledger.ErrUnsupportedLocation
	}
	if len(account.Beacons()) >= gateway.maxBeacons {
		return ConnectResult{}, fmt.Errorf("%w: max %d beacons per account", ledger.ErrMaxBeaconsExceeded, gateway.maxBeacons)
	}
	if _, bound := gateway.directory.LookupBySeed(beacon.SharedSeed); bound {
		return ConnectResult{}, fmt.Errorf("%w: %s", ledger.ErrDuplicateSharedSeed, beacon.SharedSeed)
	}

	attempt, err := gateway.provider.Connect(ctx, location, beacon.SharedSeed)
	if err != nil {
		return ConnectResult{}, ledger.CollaboratorError(collaboratorProvider, err)
	}
	if err := account.AddBeacon(ctx, beacon); err != nil {
		if disconnectErr := gateway.provider.Disconnect(ctx, beacon.SharedSeed); disconnectErr != nil {
			gateway.logger.Warn("disconnect after failed connect", zap.String("account", name), zap.Error(disconnectErr))
		}
		return ConnectResult{}, err
	}
	account.AddConnectionAttempt(beacon, attempt)
	gateway.reindex(account)
	return ConnectResult{Name: name, Location: location.String()}, nil
}

// Listen attaches an incoming shared seed to the account and registers it with
// the local listener. An empty rawSeed generates a fresh seed.
func (gateway *Gateway) Listen(ctx context.Context, name string, rawSeed string) (ListenResult, error) {
	gateway.mutex.Lock()
	defer gateway.mutex.Unlock()

	account, err := gateway.lookupAccount(name)
	if err != nil {
		return ListenResult{}, err
	}
	var seed ledger.SharedSeed
	if strings.TrimSpace(rawSeed) != "" {
		seed, err = ledger.ParseSharedSeed(rawSeed)
		if err != nil {
			return ListenResult{}, fmt.Errorf("could not understand shared seed: %w", err)
		}
	} else {
		seed, err = ledger.NewSharedSeed()
		if err != nil {
			return ListenResult{}, err
		}
	}
	if _, bound := gateway.directory.LookupBySeed(seed); bound {
		return ListenResult{}, fmt.Errorf("%w: %s", ledger.ErrDuplicateSharedSeed, seed)
	}
	beacon := ledger.IncomingBeacon(seed, gateway.provider.ListenLocations())
	encoded, err := beacon.Encode()
	if err != nil {
		return ListenResult{}, err
	}
	if err := account.AddSharedSeed(ctx, seed); err != nil {
		return ListenResult{}, err
	}
	if err := gateway.provider.LocalConnect(ctx, seed); err != nil {
		if removeErr := account.RemoveSharedSeed(ctx, seed); removeErr != nil {
			gateway.logger.Error("roll back shared seed", zap.String("account", name), zap.Error(removeErr))
		}
		return ListenResult{}, ledger.CollaboratorError(collaboratorProvider, err)
	}
	gateway.tracker.SetConnecting(seed)
	gateway.reindex(account)
	return ListenResult{Name: name, Beacon: encoded}, nil
}

// Clear disconnects and detaches every beacon and shared seed of the account.
// Provider failures are logged; the ledger side is cleared regardless.
func (gateway *Gateway) Clear(ctx context.Context, name string) error {
	gateway.mutex.Lock()
	defer gateway.mutex.Unlock()

	account, err := gateway.lookupAccount(name)
	if err != nil {
		return err
	}
	var errs []error
	for _, beacon := range account.Beacons() {
		if err := gateway.provider.Disconnect(ctx, beacon.SharedSeed); err != nil {
			gateway.logger.Warn("disconnect beacon", zap.String("account", name), zap.Error(err))
		}
		if err := account.RemoveBeacon(ctx, beacon); err != nil {
			errs = append(errs, err)
		}
	}
	for _, seed := range account.SharedSeeds() {
		if err := gateway.provider.LocalDisconnect(ctx, seed); err != nil {
			gateway.logger.Warn("local disconnect", zap.String("account", name), zap.Error(err))
		}
		gateway.tracker.Clear(seed)
		if err := account.RemoveSharedSeed(ctx, seed); err != nil {
			errs = append(errs, err)
		}
	}
	gateway.reindex(account)
	return errors.Join(errs...)
}

// GetInfo describes every account.
func (gateway *Gateway) GetInfo() Info {
	gateway.mutex.Lock()
	defer gateway.mutex.Unlock()

	locations := gateway.provider.ListenLocations()
	accounts := gateway.directory.Accounts()
	info := Info{Accounts: make([]ledger.AccountAttributes, 0, len(accounts))}
	summaries := make([]string, 0, len(accounts))
	for _, account := range accounts {
		info.Accounts = append(info.Accounts, account.Attributes(locations))
		summaries = append(summaries, account.Summary(locations))
	}
	info.Summary = strings.Join(summaries, "\n")
	return info
}

// GetAccountInfo describes the named accounts. Unknown names are skipped.
func (gateway *Gateway) GetAccountInfo(names ...string) []ledger.AccountAttributes {
	wanted := make(map[string]struct{}, len(names))
	for _, name := range names {
		wanted[name] = struct{}{}
	}
	attributes := []ledger.AccountAttributes{}
	if len(wanted) == 0 {
		return attributes
	}
	for _, account := range gateway.GetInfo().Accounts {
		if _, ok := wanted[account.Name]; ok {
			attributes = append(attributes, account)
		}
	}
	return attributes
}

// GetAccountReceipts returns the receipt sessions of name, most recent first.
func (gateway *Gateway) GetAccountReceipts(name string) ([]ledger.ReceiptSession, error) {
	gateway.mutex.Lock()
	defer gateway.mutex.Unlock()

	account, err := gateway.lookupAccount(name)
	if err != nil {
		return nil, err
	}
	return account.Receipts(), nil
}
