package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/modemctl/internal/logging"
	"github.com/danmuck/modemctl/internal/modem"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const defaultEndpoint = "@rild"

var version = "dev"

type globalFlags struct {
	configPath string
	endpoint   string
	slot       int
	dialer     string
	baud       int
	logLevel   string
	wait       time.Duration
}

func newRootCmd() *cobra.Command {
	return newRootCmdWith(&globalFlags{})
}

func newRootCmdWith(flags *globalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "modemctl",
		Short: "Talk to a modem control daemon",
		Long: `modemctl connects to a modem control daemon over its framed socket
protocol, submits requests, and streams unsolicited events.

Endpoints:
  Unix socket:  --endpoint @rild          (leading @ is the abstract namespace)
  Serial tty:   --dialer serial --endpoint /dev/ttyUSB2 --baud 115200

Settings are read from --config (TOML) first; flags override the file.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "TOML config file")
	pf.StringVarP(&flags.endpoint, "endpoint", "e", "", "daemon socket name or tty path")
	pf.IntVar(&flags.slot, "slot", 0, "SIM slot; selects rild, rild2, ...")
	pf.StringVar(&flags.dialer, "dialer", "", "unix or serial")
	pf.IntVarP(&flags.baud, "baud", "b", 0, "baud rate (serial only)")
	pf.StringVar(&flags.logLevel, "log-level", "", "trace, debug, info, warn, error")
	pf.DurationVar(&flags.wait, "wait", 5*time.Second, "how long to wait for the daemon before giving up")

	root.AddCommand(
		newRunCmd(flags),
		newSendCmd(flags),
		newDTMFCmd(flags),
		newHoldCmd(flags),
		newVersionCmd(),
	)
	return root
}

// resolveConfig loads the config file, then applies flags that were set.
func resolveConfig(cmd *cobra.Command, flags *globalFlags) (modem.Config, error) {
	logging.ConfigureRuntime()

	cfg := defaultAppConfig()
	if flags.configPath != "" {
		loaded, err := loadConfig(flags.configPath)
		if err != nil {
			return modem.Config{}, err
		}
		cfg = loaded
	}

	pf := cmd.Flags()
	if pf.Changed("endpoint") {
		cfg.Modem.Endpoint = flags.endpoint
	}
	if pf.Changed("slot") {
		cfg.Slot = flags.slot
	}
	if pf.Changed("dialer") {
		cfg.Modem.Dialer = flags.dialer
	}
	if pf.Changed("baud") {
		cfg.Modem.Baud = flags.baud
	}
	if pf.Changed("log-level") {
		cfg.LogLevel = flags.logLevel
	}
	if !logging.SetLevel(cfg.LogLevel) {
		return modem.Config{}, fmt.Errorf("unknown log level %q", cfg.LogLevel)
	}

	resolved := cfg.resolved()
	if err := resolved.Validate(); err != nil {
		return modem.Config{}, err
	}
	return resolved, nil
}

// withClient connects, waits for the daemon, runs fn, and closes the client.
func withClient(cmd *cobra.Command, flags *globalFlags, fn func(ctx context.Context, c *modem.Client) error) error {
	cfg, err := resolveConfig(cmd, flags)
	if err != nil {
		return err
	}
	c, err := modem.New(cfg)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if err := c.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			log.Warn().Err(err).Msg("modemctl close")
		}
	}()

	if err := waitReady(ctx, c, flags.wait); err != nil {
		return err
	}
	return fn(ctx, c)
}

var errNotReady = errors.New("daemon not reachable")

func waitReady(ctx context.Context, c *modem.Client, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for !c.Ready() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("%w within %s (state %s)", errNotReady, timeout, c.State())
		case <-tick.C:
		}
	}
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the modemctl version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}
