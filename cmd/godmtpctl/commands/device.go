package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dantte-lp/godmtp/internal/config"
	"github.com/dantte-lp/godmtp/internal/store"
)

func deviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "device",
		Short: "Manage devices",
	}

	cmd.AddCommand(deviceListCmd())
	cmd.AddCommand(deviceShowCmd())
	cmd.AddCommand(deviceAddCmd())
	cmd.AddCommand(deviceDeleteCmd())
	cmd.AddCommand(deviceEnableCmd())
	cmd.AddCommand(deviceDisableCmd())

	return cmd
}

// --- device list ---

func deviceListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <account>",
		Short: "List the devices of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}

			devices, err := s.ListDevices(context.Background(), args[0])
			if err != nil {
				return fmt.Errorf("list devices for %q: %w", args[0], err)
			}

			out, err := formatDevices(devices, outputFormat)
			if err != nil {
				return fmt.Errorf("format devices: %w", err)
			}

			fmt.Print(out)

			return nil
		},
	}
}

// --- device show ---

func deviceShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <account> <device>",
		Short: "Show details of a device",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}

			dev, err := s.Device(context.Background(), args[0], args[1])
			if err != nil {
				return fmt.Errorf("get device %s/%s: %w", args[0], args[1], err)
			}

			out, err := formatDevice(dev, outputFormat)
			if err != nil {
				return fmt.Errorf("format device: %w", err)
			}

			fmt.Print(out)

			return nil
		},
	}
}

// --- device add ---

func deviceAddCmd() *cobra.Command {
	var (
		uniqueID    string
		description string
		inactive    bool

		maxSimplexConn       int
		maxSimplexConnPerMin int
		maxDuplexConn        int
		maxDuplexConnPerMin  int
		maxEvents            int
		limitInterval        time.Duration
	)

	cmd := &cobra.Command{
		Use:   "add <account> <device>",
		Short: "Create or update a device",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}

			dev := &store.Device{
				AccountID:   args[0],
				DeviceID:    args[1],
				UniqueID:    strings.ToUpper(uniqueID),
				Description: description,
				Active:      !inactive,
				Encodings:   store.EncodingBinary,
				Limits: store.Limits{
					MaxSimplexConn:       maxSimplexConn,
					MaxSimplexConnPerMin: maxSimplexConnPerMin,
					MaxDuplexConn:        maxDuplexConn,
					MaxDuplexConnPerMin:  maxDuplexConnPerMin,
					MaxAllowedEvents:     maxEvents,
					LimitInterval:        limitInterval,
				},
			}

			if err := s.UpsertDevice(context.Background(), dev); err != nil {
				return fmt.Errorf("upsert device %s/%s: %w", args[0], args[1], err)
			}

			out, err := formatDevice(dev, outputFormat)
			if err != nil {
				return fmt.Errorf("format device: %w", err)
			}

			fmt.Print(out)

			return nil
		},
	}

	// Flag defaults match the daemon's built-in limit defaults so
	// CLI-created devices behave like daemon-discovered ones.
	defaults := config.DefaultConfig().Limits.Limits()

	flags := cmd.Flags()
	flags.StringVar(&uniqueID, "unique-id", "", "device unique identifier (uppercase hex, for mobile-originated lookup)")
	flags.StringVar(&description, "description", "", "free-form device description")
	flags.BoolVar(&inactive, "inactive", false, "create the device in the inactive state")
	flags.IntVar(&maxSimplexConn, "max-simplex-conn", defaults.MaxSimplexConn, "max simplex connections per limit interval (0 = unlimited)")
	flags.IntVar(&maxSimplexConnPerMin, "max-simplex-conn-per-min", defaults.MaxSimplexConnPerMin, "max simplex connections per minute (0 = unlimited)")
	flags.IntVar(&maxDuplexConn, "max-duplex-conn", defaults.MaxDuplexConn, "max duplex connections per limit interval (0 = unlimited)")
	flags.IntVar(&maxDuplexConnPerMin, "max-duplex-conn-per-min", defaults.MaxDuplexConnPerMin, "max duplex connections per minute (0 = unlimited)")
	flags.IntVar(&maxEvents, "max-events", defaults.MaxAllowedEvents, "max events per limit interval (0 = unlimited)")
	flags.DurationVar(&limitInterval, "limit-interval", defaults.LimitInterval, "sliding window for connection and event limits")

	return cmd
}

// --- device delete ---

func deviceDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <account> <device>",
		Short: "Delete a device",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}

			if err := s.DeleteDevice(context.Background(), args[0], args[1]); err != nil {
				return fmt.Errorf("delete device %s/%s: %w", args[0], args[1], err)
			}

			fmt.Printf("Device %s/%s deleted.\n", args[0], args[1])

			return nil
		},
	}
}

// --- device enable / disable ---

func deviceEnableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enable <account> <device>",
		Short: "Mark a device active",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			return setDeviceActive(args[0], args[1], true)
		},
	}
}

func deviceDisableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disable <account> <device>",
		Short: "Mark a device inactive",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			return setDeviceActive(args[0], args[1], false)
		},
	}
}

// setDeviceActive flips the active flag on an existing device.
func setDeviceActive(accountID, deviceID string, active bool) error {
	s, err := openStore()
	if err != nil {
		return err
	}

	ctx := context.Background()

	dev, err := s.Device(ctx, accountID, deviceID)
	if err != nil {
		return fmt.Errorf("get device %s/%s: %w", accountID, deviceID, err)
	}

	dev.Active = active
	if err := s.UpsertDevice(ctx, dev); err != nil {
		return fmt.Errorf("upsert device %s/%s: %w", accountID, deviceID, err)
	}

	state := "disabled"
	if active {
		state = "enabled"
	}
	fmt.Printf("Device %s/%s %s.\n", accountID, deviceID, state)

	return nil
}
