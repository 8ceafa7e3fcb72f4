package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/MarkoPoloResearchLab/terminus/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	flagConfigFile      = "config"
	flagDatabaseURL     = "database-url"
	flagRPCListenAddr   = "rpc-listen-addr"
	flagHTTPListenAddr  = "http-listen-addr"
	flagAllowedOrigins  = "http-allowed-origins"
	flagJWTSecret       = "http-jwt-secret"
	flagJWTIssuer       = "http-jwt-issuer"
	flagListenLocations = "listen-locations"
	flagLNDAddress      = "lnd-address"
	flagLNDCertHex      = "lnd-cert-hex"
	flagLNDMacaroonHex  = "lnd-macaroon-hex"
	flagRetryInterval   = "retry-interval"
	flagPruneInterval   = "prune-interval"
	flagMaxBeacons      = "max-beacons"
	flagLogDevelopment  = "log-dev"
	envPrefix           = "TERMINUS"
)

// configKeys maps flags to viper keys; the env name is TERMINUS_<KEY>.
var configKeys = map[string]string{
	flagDatabaseURL:     "database_url",
	flagRPCListenAddr:   "rpc_listen_addr",
	flagHTTPListenAddr:  "http_listen_addr",
	flagAllowedOrigins:  "http_allowed_origins",
	flagJWTSecret:       "http_jwt_secret",
	flagJWTIssuer:       "http_jwt_issuer",
	flagListenLocations: "listen_locations",
	flagLNDAddress:      "lnd_address",
	flagLNDCertHex:      "lnd_cert_hex",
	flagLNDMacaroonHex:  "lnd_macaroon_hex",
	flagRetryInterval:   "retry_interval",
	flagPruneInterval:   "prune_interval",
	flagMaxBeacons:      "max_beacons",
	flagLogDevelopment:  "log_dev",
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "terminusd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &config.Config{}
	cmd := &cobra.Command{
		Use:           "terminusd",
		Short:         "Lightning custody gateway daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runDaemon(ctx, cfg)
		},
	}

	flags := cmd.Flags()
	flags.String(flagConfigFile, "", "optional config file (yaml, toml or json)")
	flags.String(flagDatabaseURL, config.DefaultDatabaseURL, "sqlite path, sqlite:// or postgres:// URL, or file://<dir> for JSON records")
	flags.String(flagRPCListenAddr, config.DefaultRPCListenAddr, "admin gRPC listen address")
	flags.String(flagHTTPListenAddr, "", "read-only HTTP API listen address (disabled when empty)")
	flags.String(flagAllowedOrigins, "", "comma-separated list of allowed CORS origins")
	flags.String(flagJWTSecret, "", "HS256 secret for HTTP bearer tokens (auth disabled when empty)")
	flags.String(flagJWTIssuer, "", "expected bearer token issuer")
	flags.String(flagListenLocations, config.DefaultListenLocation, "comma-separated websocket URLs advertised in incoming beacons")
	flags.String(flagLNDAddress, "", "lnd gRPC address (payments disabled when empty)")
	flags.String(flagLNDCertHex, "", "hex-encoded lnd TLS certificate")
	flags.String(flagLNDMacaroonHex, "", "hex-encoded lnd admin macaroon")
	flags.Duration(flagRetryInterval, config.DefaultRetryInterval, "interval between reconnect attempts")
	flags.Duration(flagPruneInterval, config.DefaultPruneInterval, "interval between expired invoice sweeps")
	flags.Int(flagMaxBeacons, config.DefaultMaxBeacons, "maximum outgoing beacons per account")
	flags.Bool(flagLogDevelopment, false, "human-readable development logging")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *config.Config) error {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for flagName, key := range configKeys {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
		if err := v.BindEnv(key); err != nil {
			return err
		}
	}

	configFile, err := cmd.Flags().GetString(flagConfigFile)
	if err != nil {
		return err
	}
	if strings.TrimSpace(configFile) != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	cfg.DatabaseURL = strings.TrimSpace(v.GetString(configKeys[flagDatabaseURL]))
	cfg.RPCListenAddr = strings.TrimSpace(v.GetString(configKeys[flagRPCListenAddr]))
	cfg.HTTPListenAddr = strings.TrimSpace(v.GetString(configKeys[flagHTTPListenAddr]))
	cfg.AllowedOrigins = listValue(v, configKeys[flagAllowedOrigins])
	cfg.JWTSecret = v.GetString(configKeys[flagJWTSecret])
	cfg.JWTIssuer = strings.TrimSpace(v.GetString(configKeys[flagJWTIssuer]))
	cfg.ListenLocations = listValue(v, configKeys[flagListenLocations])
	cfg.LNDAddress = strings.TrimSpace(v.GetString(configKeys[flagLNDAddress]))
	cfg.LNDCertHex = strings.TrimSpace(v.GetString(configKeys[flagLNDCertHex]))
	cfg.LNDMacaroonHex = strings.TrimSpace(v.GetString(configKeys[flagLNDMacaroonHex]))
	cfg.RetryInterval = v.GetDuration(configKeys[flagRetryInterval])
	cfg.PruneInterval = v.GetDuration(configKeys[flagPruneInterval])
	cfg.MaxBeacons = v.GetInt(configKeys[flagMaxBeacons])
	cfg.LogDevelopment = v.GetBool(configKeys[flagLogDevelopment])

	return cfg.Validate()
}

// listValue accepts both a comma-separated string (flags, env) and a list
// (config files).
func listValue(v *viper.Viper, key string) []string {
	return config.ParseList(strings.Join(v.GetStringSlice(key), ","))
}
