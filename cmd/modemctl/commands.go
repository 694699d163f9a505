package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/danmuck/modemctl/internal/modem"
	"github.com/danmuck/modemctl/internal/observability"
	"github.com/danmuck/modemctl/internal/ril"
	"github.com/danmuck/modemctl/internal/ril/decoders"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newRunCmd(flags *globalFlags) *cobra.Command {
	var metricsAddr string
	var kinds []string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Stay connected and print unsolicited events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd, flags)
			if err != nil {
				return err
			}
			filter, err := parseEventKinds(kinds)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if metricsAddr != "" {
				srv := &http.Server{Addr: metricsAddr, Handler: metricsMux(), ReadHeaderTimeout: 5 * time.Second}
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						log.Error().Err(err).Str("addr", metricsAddr).Msg("modemctl metrics server")
					}
				}()
				defer func() { _ = srv.Close() }()
				log.Info().Str("addr", metricsAddr).Msg("modemctl metrics listening")
			}

			c, err := modem.New(cfg)
			if err != nil {
				return err
			}
			sub := c.Subscribe(filter...)
			if err := c.Start(ctx); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for {
				select {
				case <-ctx.Done():
					return c.Close()
				case ev, ok := <-sub.Events():
					if !ok {
						return c.Close()
					}
					printEvent(out, ev)
				}
			}
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	cmd.Flags().StringSliceVar(&kinds, "kind", nil, "only print these event kinds")
	return cmd
}

func newSendCmd(flags *globalFlags) *cobra.Command {
	var argsHex string
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "send KIND",
		Short: "Submit one request and print its result",
		Example: `  modemctl send OPERATOR
  modemctl send 19
  modemctl send RADIO_POWER --args 0000000100000001`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := ril.ParseRequestKind(args[0])
			if err != nil {
				return err
			}
			payload, err := hex.DecodeString(strings.TrimSpace(argsHex))
			if err != nil {
				return fmt.Errorf("parse --args: %w", err)
			}
			return withClient(cmd, flags, func(ctx context.Context, c *modem.Client) error {
				return printOutcome(ctx, cmd.OutOrStdout(), c.Submit(kind, payload), timeout)
			})
		},
	}
	cmd.Flags().StringVar(&argsHex, "args", "", "hex-encoded argument bytes")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "how long to wait for the response")
	return cmd
}

func newDTMFCmd(flags *globalFlags) *cobra.Command {
	var duration time.Duration
	cmd := &cobra.Command{
		Use:   "dtmf DIGITS",
		Short: "Play in-call tones, one start/stop pair per digit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			digits := strings.ToUpper(args[0])
			for i := 0; i < len(digits); i++ {
				if !decoders.ValidDigit(digits[i]) {
					return fmt.Errorf("invalid tone digit %q", digits[i])
				}
			}
			return withClient(cmd, flags, func(ctx context.Context, c *modem.Client) error {
				out := cmd.OutOrStdout()
				for i := 0; i < len(digits); i++ {
					if err := printOutcome(ctx, out, c.StartTone(digits[i]), duration+10*time.Second); err != nil {
						return err
					}
					select {
					case <-ctx.Done():
						return ctx.Err()
					case <-time.After(duration):
					}
					if err := printOutcome(ctx, out, c.StopTone(), 10*time.Second); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&duration, "duration", 150*time.Millisecond, "tone length")
	return cmd
}

func newHoldCmd(flags *globalFlags) *cobra.Command {
	var index int32
	cmd := &cobra.Command{
		Use:   "hold KIND",
		Short: "Submit a hold, conference, separate or transfer request",
		Example: `  modemctl hold SWITCH_WAITING_OR_HOLDING_AND_ACTIVE
  modemctl hold CONFERENCE
  modemctl hold SEPARATE_CONNECTION --index 2`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := ril.ParseRequestKind(args[0])
			if err != nil || !kind.IsHoldClass() {
				return fmt.Errorf("%w: %q", ril.ErrNotHoldClass, args[0])
			}
			var payload []byte
			if kind == ril.RequestSeparateConnection {
				payload = decoders.SeparateConnectionArgs(index)
			}
			return withClient(cmd, flags, func(ctx context.Context, c *modem.Client) error {
				return printOutcome(ctx, cmd.OutOrStdout(), c.SubmitHoldClass(kind, payload), 10*time.Second)
			})
		},
	}
	cmd.Flags().Int32Var(&index, "index", 1, "call index for SEPARATE_CONNECTION")
	return cmd
}

func printOutcome(ctx context.Context, out io.Writer, f *ril.Future, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	res, err := f.Wait(waitCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("no response within %s", timeout)
		}
		return fmt.Errorf("%s: %w", res.Kind, err)
	}
	if res.Value == nil {
		fmt.Fprintf(out, "%s serial=%d ok\n", res.Kind, res.Serial)
		return nil
	}
	fmt.Fprintf(out, "%s serial=%d %+v\n", res.Kind, res.Serial, res.Value)
	return nil
}

func printEvent(out io.Writer, ev ril.Event) {
	if ev.Source != ev.Kind {
		fmt.Fprintf(out, "%s (from %s) %+v\n", ev.Kind, ev.Source, ev.Value)
		return
	}
	fmt.Fprintf(out, "%s %+v\n", ev.Kind, ev.Value)
}

func parseEventKinds(names []string) ([]ril.EventKind, error) {
	out := make([]ril.EventKind, 0, len(names))
	for _, name := range names {
		k, err := ril.ParseEventKind(name)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, nil
}

func metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	return mux
}
