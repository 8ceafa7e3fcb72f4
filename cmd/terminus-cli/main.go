package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/terminus/internal/adminrpc"
	"github.com/MarkoPoloResearchLab/terminus/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	flagRPCAddr    = "rpc-addr"
	flagTimeout    = "timeout"
	envPrefix      = "TERMINUS"
	defaultTimeout = 30 * time.Second
	capUnlimited   = "none"
)

// caller is the part of adminrpc.Client the commands use.
type caller interface {
	Call(ctx context.Context, method string, params map[string]any) (map[string]any, error)
	Close() error
}

type dialFunc func(address string) (caller, error)

func dialAdmin(address string) (caller, error) {
	return adminrpc.Dial(address)
}

func main() {
	cmd := newRootCommand(dialAdmin)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "terminus-cli: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand(dial dialFunc) *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:           "terminus-cli",
		Short:         "Admin client for terminusd",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v.SetEnvPrefix(envPrefix)
			v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
			v.AutomaticEnv()
			if err := v.BindPFlag(flagRPCAddr, cmd.Root().PersistentFlags().Lookup(flagRPCAddr)); err != nil {
				return err
			}
			if err := v.BindEnv(flagRPCAddr, "TERMINUS_RPC_LISTEN_ADDR"); err != nil {
				return err
			}
			return v.BindPFlag(flagTimeout, cmd.Root().PersistentFlags().Lookup(flagTimeout))
		},
	}
	cmd.PersistentFlags().String(flagRPCAddr, config.DefaultRPCListenAddr, "terminusd admin gRPC address")
	cmd.PersistentFlags().Duration(flagTimeout, defaultTimeout, "admin call timeout")

	invoke := func(cmd *cobra.Command, method string, params map[string]any) error {
		return runCall(cmd.Context(), cmd.OutOrStdout(), dial, v.GetString(flagRPCAddr), v.GetDuration(flagTimeout), method, params)
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "getinfo",
			Short: "Summarize every account",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return invoke(cmd, adminrpc.MethodGetInfo, nil)
			},
		},
		&cobra.Command{
			Use:   "getaccountinfo <name>...",
			Short: "Show the attributes of the named accounts",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				names := make([]any, 0, len(args))
				for _, name := range args {
					names = append(names, name)
				}
				return invoke(cmd, adminrpc.MethodGetAccountInfo, map[string]any{"names": names})
			},
		},
		&cobra.Command{
			Use:   "getaccountreceipts <name>",
			Short: "Show the receipt sessions of an account",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return invoke(cmd, adminrpc.MethodGetAccountReceipts, map[string]any{"name": args[0]})
			},
		},
		&cobra.Command{
			Use:   "create <msats> <base-name> [cap-msats|none]",
			Short: "Create an account with an initial balance",
			Args:  cobra.RangeArgs(2, 3),
			RunE: func(cmd *cobra.Command, args []string) error {
				capRaw := capUnlimited
				if len(args) == 3 {
					capRaw = args[2]
				}
				return invoke(cmd, adminrpc.MethodCreate, map[string]any{"msats": args[0], "name": args[1], "cap": capRaw})
			},
		},
		&cobra.Command{
			Use:   "rm <name>",
			Short: "Remove an account with no connections",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return invoke(cmd, adminrpc.MethodRemove, map[string]any{"name": args[0]})
			},
		},
		&cobra.Command{
			Use:   "connect <name> <beacon>",
			Short: "Dial a client beacon for an account",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return invoke(cmd, adminrpc.MethodConnect, map[string]any{"name": args[0], "beacon": args[1]})
			},
		},
		&cobra.Command{
			Use:   "listen <name> [shared-seed]",
			Short: "Listen for a client and print its beacon",
			Args:  cobra.RangeArgs(1, 2),
			RunE: func(cmd *cobra.Command, args []string) error {
				params := map[string]any{"name": args[0]}
				if len(args) == 2 {
					params["shared_seed"] = args[1]
				}
				return invoke(cmd, adminrpc.MethodListen, params)
			},
		},
		&cobra.Command{
			Use:   "clear <name>",
			Short: "Drop every connection of an account",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return invoke(cmd, adminrpc.MethodClear, map[string]any{"name": args[0]})
			},
		},
	)
	return cmd
}

// runCall prints the response as JSON. Admin failures are printed in the
// same shape and reported as an error so the exit status is non-zero.
func runCall(ctx context.Context, out io.Writer, dial dialFunc, address string, timeout time.Duration, method string, params map[string]any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	client, err := dial(address)
	if err != nil {
		return fmt.Errorf("dial %s: %w", address, err)
	}
	defer func() { _ = client.Close() }()

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	response, callErr := client.Call(callCtx, method, params)
	if callErr != nil {
		response = adminrpc.ErrorResponse(callErr)
	}
	if err := printJSON(out, response); err != nil {
		return err
	}
	if callErr != nil {
		return fmt.Errorf("%s failed", method)
	}
	return nil
}

func printJSON(out io.Writer, value map[string]any) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
