package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/ringsync/internal/groutine"
	"github.com/srg/ringsync/internal/syncer"
)

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Find a ring, read one sample and store it",
		Long: `Scan for an EZ Ring, connect to the first device whose name matches the
configured brand tokens, read one biometric sample and store it.

With --device the scan looks for that address instead of matching names.`,
		Example: `  ringsync sync
  ringsync sync --timeout 20s --codec hrm
  ringsync sync --device AA:BB:CC:DD:EE:FF --format json`,
		Args: cobra.NoArgs,
		RunE: runSync,
	}

	cmd.Flags().DurationP("timeout", "t", 0, "Scan timeout (default from config, 10s)")
	cmd.Flags().Duration("handshake-timeout", 0, "Connect-to-sample timeout (default from config, 30s)")
	cmd.Flags().String("device", "", "Connect to this device address instead of the first matching ring")
	cmd.Flags().String("codec", "", "Payload codec (ezring, hrm, fixed)")
	cmd.Flags().StringSlice("name", nil, "Brand name tokens to auto-select (repeatable)")
	cmd.Flags().StringP("format", "f", formatText, "Output format (text, json)")
	return cmd
}

func runSync(cmd *cobra.Command, _ []string) error {
	format, _ := cmd.Flags().GetString("format")
	if err := validateFormat(format); err != nil {
		return err
	}

	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	if d, _ := cmd.Flags().GetDuration("timeout"); d > 0 {
		cfg.Scan.Timeout = d
	}
	if d, _ := cmd.Flags().GetDuration("handshake-timeout"); d > 0 {
		cfg.Connection.HandshakeTimeout = d
	}
	if codec, _ := cmd.Flags().GetString("codec"); codec != "" {
		cfg.Codec = codec
	}
	if names, _ := cmd.Flags().GetStringSlice("name"); len(names) > 0 {
		cfg.Scan.NameTokens = names
	}
	target, _ := cmd.Flags().GetString("device")
	target = strings.TrimSpace(target)

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	engine, cleanup, err := newEngine(cfg, st, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	out := cmd.OutOrStdout()
	progress := NewProgressPrinter(out, "Syncing ring", phaseName(syncer.StatusScanning))
	progress.Start()

	start := engine.StartSync
	if target != "" {
		start = func(ctx context.Context) error {
			if err := engine.Scan(ctx); err != nil {
				return err
			}
			groutine.Go(ctx, "sync-select-device", func(ctx context.Context) {
				selectDevice(ctx, engine, target)
			})
			return nil
		}
	}

	final, err := driveEngine(ctx, engine, start, func(st syncer.Status) {
		progress.SetPhase(phaseName(st.Kind))
	})
	progress.Stop()
	if err != nil {
		return err
	}

	if final.Kind != syncer.StatusSuccess {
		if target != "" && final.Kind == syncer.StatusTimedOut {
			return fmt.Errorf("%w: %s", ErrDeviceNotFound, target)
		}
		if format == formatJSON {
			_ = printJSON(out, final)
		} else {
			printStatus(out, final)
		}
		return &statusError{status: final}
	}

	synced := engine.LastSyncedSample()
	if synced == nil {
		return &statusError{status: final}
	}
	if format == formatJSON {
		return printJSON(out, synced)
	}
	printStatus(out, final)
	return printSample(out, *synced)
}

// selectDevice waits for target to show up in the running scan and connects to it
func selectDevice(ctx context.Context, engine *syncer.Engine, target string) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !engine.Syncing() {
				return
			}
			for _, d := range engine.DiscoveredDevices() {
				if strings.EqualFold(d.ID, target) {
					_ = engine.ConnectToDevice(d.ID)
					return
				}
			}
		}
	}
}
