package main

import (
	"github.com/spf13/cobra"
	"github.com/srg/ringsync/internal/syncer"
	"github.com/srg/ringsync/pkg/config"
)

func newScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "List nearby BLE devices",
		Long: `Scan for Bluetooth Low Energy devices for the scan window and list them in
first-seen order. Devices whose names match the ring brand tokens are marked.
Use an address from this list with 'ringsync sync --device'.`,
		Args: cobra.NoArgs,
		RunE: runScan,
	}

	cmd.Flags().DurationP("duration", "d", 0, "Scan duration (default from config, 10s)")
	cmd.Flags().StringSlice("allow", nil, "Only show devices with these addresses")
	cmd.Flags().StringSlice("block", nil, "Hide devices with these addresses")
	cmd.Flags().Int("min-rssi", 0, "Hide devices weaker than this RSSI (dBm)")
	cmd.Flags().StringP("format", "f", formatText, "Output format (text, json)")
	return cmd
}

func runScan(cmd *cobra.Command, _ []string) error {
	format, _ := cmd.Flags().GetString("format")
	if err := validateFormat(format); err != nil {
		return err
	}

	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	if d, _ := cmd.Flags().GetDuration("duration"); d > 0 {
		cfg.Scan.Timeout = d
	}
	if allow, _ := cmd.Flags().GetStringSlice("allow"); len(allow) > 0 {
		cfg.Scan.AllowList = allow
	}
	if block, _ := cmd.Flags().GetStringSlice("block"); len(block) > 0 {
		cfg.Scan.BlockList = block
	}
	if rssi, _ := cmd.Flags().GetInt("min-rssi"); rssi != 0 {
		cfg.Scan.MinRSSI = rssi
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	// a scan never stores anything; keep the configured store out of the way
	cfg.Store.Driver = config.DriverMemory
	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	cmd.SilenceUsage = true

	engine, cleanup, err := newEngine(cfg, st, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	out := cmd.OutOrStdout()
	progress := NewCountdownProgressPrinter(out, "Scanning for BLE devices", "Scanning", cfg.Scan.Timeout)
	progress.Start()

	final, err := driveEngine(ctx, engine, engine.Scan, nil)
	progress.Stop()
	interrupted := ctx.Err() != nil
	// Ctrl+C ends the scan early; still show what was found
	if err != nil && !interrupted {
		return err
	}
	if !interrupted && (final.Kind == syncer.StatusFailed || final.Kind == syncer.StatusUnavailable) {
		return &statusError{status: final}
	}

	devices := engine.DiscoveredDevices()
	if format == formatJSON {
		return printJSON(out, devices)
	}
	return printDevicesTable(out, devices, cfg.DiscoveryOptions().NameTokens)
}
