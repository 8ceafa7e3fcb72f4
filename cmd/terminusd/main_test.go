package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/terminus/internal/bolt11"
	"github.com/MarkoPoloResearchLab/terminus/internal/config"
	"github.com/MarkoPoloResearchLab/terminus/internal/gateway"
	"github.com/MarkoPoloResearchLab/terminus/internal/lnclient/offline"
	"github.com/MarkoPoloResearchLab/terminus/internal/provider"
	"github.com/MarkoPoloResearchLab/terminus/internal/store/filestore"
	"github.com/MarkoPoloResearchLab/terminus/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/terminus/pkg/ledger"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadConfigDefaults(test *testing.T) {
	cmd := newRootCommand()
	require.NoError(test, cmd.ParseFlags([]string{}))
	cfg := &config.Config{}
	require.NoError(test, loadConfig(cmd, cfg))

	require.Equal(test, config.DefaultDatabaseURL, cfg.DatabaseURL)
	require.Equal(test, config.DefaultRPCListenAddr, cfg.RPCListenAddr)
	require.Equal(test, []string{config.DefaultListenLocation}, cfg.ListenLocations)
	require.Equal(test, config.DefaultRetryInterval, cfg.RetryInterval)
	require.Equal(test, config.DefaultPruneInterval, cfg.PruneInterval)
	require.Equal(test, config.DefaultMaxBeacons, cfg.MaxBeacons)
	require.False(test, cfg.HTTPEnabled())
	require.False(test, cfg.LightningEnabled())
}

func TestLoadConfigFlagsAndEnv(test *testing.T) {
	test.Setenv("TERMINUS_MAX_BEACONS", "5")
	test.Setenv("TERMINUS_HTTP_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	cmd := newRootCommand()
	require.NoError(test, cmd.ParseFlags([]string{
		"--database-url", "postgres://user@localhost/terminus",
		"--listen-locations", "ws://10.0.0.1:80,wss://relay.example.com",
		"--retry-interval", "9s",
	}))
	cfg := &config.Config{}
	require.NoError(test, loadConfig(cmd, cfg))

	require.Equal(test, "postgres://user@localhost/terminus", cfg.DatabaseURL)
	require.Equal(test, []string{"ws://10.0.0.1:80", "wss://relay.example.com"}, cfg.ListenLocations)
	require.Equal(test, 9*time.Second, cfg.RetryInterval)
	require.Equal(test, 5, cfg.MaxBeacons)
	require.Equal(test, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
}

func TestLoadConfigFile(test *testing.T) {
	path := filepath.Join(test.TempDir(), "terminus.yaml")
	contents := "rpc_listen_addr: 127.0.0.1:9999\nlisten_locations:\n  - ws://127.0.0.1:1\n  - ws://127.0.0.1:2\n"
	require.NoError(test, os.WriteFile(path, []byte(contents), 0o600))
	cmd := newRootCommand()
	require.NoError(test, cmd.ParseFlags([]string{"--config", path}))
	cfg := &config.Config{}
	require.NoError(test, loadConfig(cmd, cfg))

	require.Equal(test, "127.0.0.1:9999", cfg.RPCListenAddr)
	require.Equal(test, []string{"ws://127.0.0.1:1", "ws://127.0.0.1:2"}, cfg.ListenLocations)
}

func TestLoadConfigRejectsBadLocation(test *testing.T) {
	cmd := newRootCommand()
	require.NoError(test, cmd.ParseFlags([]string{"--listen-locations", "http://nope"}))
	require.Error(test, loadConfig(cmd, &config.Config{}))
}

func TestOpenStoreBackends(test *testing.T) {
	test.Parallel()
	ctx := context.Background()
	directory := test.TempDir()

	store, cleanup, err := openStore(ctx, "file://"+filepath.Join(directory, "records"))
	require.NoError(test, err)
	require.IsType(test, &filestore.Store{}, store)
	require.NoError(test, cleanup())

	store, cleanup, err = openStore(ctx, "sqlite://"+filepath.Join(directory, "nested", "terminus.db"))
	require.NoError(test, err)
	require.IsType(test, &gormstore.Store{}, store)
	names, err := store.List(ctx)
	require.NoError(test, err)
	require.Empty(test, names)
	require.NoError(test, cleanup())
}

func TestOpenNodeWithoutLightning(test *testing.T) {
	test.Parallel()
	node, closeNode, err := openNode(&config.Config{}, nil, zap.NewNop())
	require.NoError(test, err)
	require.IsType(test, offline.Node{}, node)
	require.NoError(test, closeNode())
}

func TestProviderRequestsReachGateway(test *testing.T) {
	test.Parallel()
	ctx := context.Background()
	store, err := filestore.New(test.TempDir())
	require.NoError(test, err)
	location, err := ledger.NewWebSocketLocation("ws://127.0.0.1:11058")
	require.NoError(test, err)
	stack, err := provider.New([]ledger.Location{location})
	require.NoError(test, err)
	custody, err := gateway.New(ledger.Dependencies{
		Store:   store,
		Decoder: bolt11.New(),
		Now:     func() time.Time { return time.Now().UTC() },
		Logger:  zap.NewNop(),
	}, offline.Node{}, stack)
	require.NoError(test, err)
	stack.SetListener(custody)

	created, err := custody.Create(ctx, "5000", "a", "none")
	require.NoError(test, err)
	seedHex := strings.Repeat("ab", len(ledger.SharedSeed{}))
	_, err = custody.Listen(ctx, created.Name, seedHex)
	require.NoError(test, err)
	seed, err := ledger.ParseSharedSeed(seedHex)
	require.NoError(test, err)
	require.NoError(test, stack.Announce(ctx, seed))

	info, err := stack.RequestProviderInfo(ctx, seed)
	require.NoError(test, err)
	require.Equal(test, int64(5000), info.Wad.Msats)

	err = stack.RequestInvoice(ctx, seed, 1000, "r1")
	require.ErrorIs(test, err, offline.ErrNoNode)
	err = stack.RequestPay(ctx, seed, "not-an-invoice", "r2")
	require.Error(test, err)

	attributes := custody.GetAccountInfo(created.Name)
	require.Len(test, attributes, 1)
	require.Equal(test, int64(5000), attributes[0].Wad.Msats)
}
