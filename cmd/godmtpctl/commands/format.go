// Package commands implements the godmtpctl CLI commands.
package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dantte-lp/godmtp/internal/store"
)

const (
	formatJSON  = "json"
	formatTable = "table"
)

// errUnsupportedFormat is returned when the requested output format is not supported.
var errUnsupportedFormat = errors.New("unsupported output format")

// --- Account formatters ---

// formatAccounts renders a slice of accounts in the requested format.
func formatAccounts(accounts []*store.Account, format string) (string, error) {
	switch format {
	case formatJSON:
		return marshalJSON(accountsToView(accounts))
	case formatTable:
		return formatAccountsTable(accounts)
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

// formatAccount renders a single account in the requested format.
func formatAccount(acct *store.Account, format string) (string, error) {
	switch format {
	case formatJSON:
		return marshalJSON(accountToView(acct))
	case formatTable:
		return formatAccountDetail(acct)
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatAccountsTable(accounts []*store.Account) (string, error) {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tACTIVE\tDESCRIPTION")

	for _, a := range accounts {
		fmt.Fprintf(w, "%s\t%t\t%s\n", a.Name, a.Active, a.Description)
	}

	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("flush tabwriter: %w", err)
	}

	return buf.String(), nil
}

func formatAccountDetail(a *store.Account) (string, error) {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	fmt.Fprintf(w, "Name:\t%s\n", a.Name)
	fmt.Fprintf(w, "Active:\t%t\n", a.Active)
	fmt.Fprintf(w, "Description:\t%s\n", a.Description)

	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("flush tabwriter: %w", err)
	}

	return buf.String(), nil
}

// --- Device formatters ---

// formatDevices renders a slice of devices in the requested format.
func formatDevices(devices []*store.Device, format string) (string, error) {
	switch format {
	case formatJSON:
		return marshalJSON(devicesToView(devices))
	case formatTable:
		return formatDevicesTable(devices)
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

// formatDevice renders a single device in the requested format.
func formatDevice(dev *store.Device, format string) (string, error) {
	switch format {
	case formatJSON:
		return marshalJSON(deviceToView(dev))
	case formatTable:
		return formatDeviceDetail(dev)
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatDevicesTable(devices []*store.Device) (string, error) {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ACCOUNT\tDEVICE\tUNIQUE-ID\tACTIVE\tEVENTS\tDESCRIPTION")

	for _, d := range devices {
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%d\t%s\n",
			d.AccountID, d.DeviceID, d.UniqueID, d.Active, d.EventCount, d.Description)
	}

	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("flush tabwriter: %w", err)
	}

	return buf.String(), nil
}

func formatDeviceDetail(d *store.Device) (string, error) {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	fmt.Fprintf(w, "Account:\t%s\n", d.AccountID)
	fmt.Fprintf(w, "Device:\t%s\n", d.DeviceID)
	fmt.Fprintf(w, "Unique ID:\t%s\n", d.UniqueID)
	fmt.Fprintf(w, "Active:\t%t\n", d.Active)
	fmt.Fprintf(w, "Description:\t%s\n", d.Description)
	fmt.Fprintf(w, "Encodings:\t%s\n", d.Encodings)
	fmt.Fprintf(w, "Event Count:\t%d\n", d.EventCount)
	fmt.Fprintf(w, "Max Simplex Conn:\t%d\n", d.Limits.MaxSimplexConn)
	fmt.Fprintf(w, "Max Simplex Conn/Min:\t%d\n", d.Limits.MaxSimplexConnPerMin)
	fmt.Fprintf(w, "Max Duplex Conn:\t%d\n", d.Limits.MaxDuplexConn)
	fmt.Fprintf(w, "Max Duplex Conn/Min:\t%d\n", d.Limits.MaxDuplexConnPerMin)
	fmt.Fprintf(w, "Max Events:\t%d\n", d.Limits.MaxAllowedEvents)
	fmt.Fprintf(w, "Limit Interval:\t%s\n", d.Limits.LimitInterval)

	if d.LastSimplexConnect != 0 {
		fmt.Fprintf(w, "Last Simplex Connect:\t%s\n",
			time.Unix(d.LastSimplexConnect, 0).UTC().Format(time.RFC3339))
	}
	if d.LastDuplexConnect != 0 {
		fmt.Fprintf(w, "Last Duplex Connect:\t%s\n",
			time.Unix(d.LastDuplexConnect, 0).UTC().Format(time.RFC3339))
	}

	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("flush tabwriter: %w", err)
	}

	return buf.String(), nil
}

// --- View types for clean JSON output ---

type accountView struct {
	Name        string `json:"name"`
	Active      bool   `json:"active"`
	Description string `json:"description,omitempty"`
}

type deviceView struct {
	AccountID          string `json:"account_id"`
	DeviceID           string `json:"device_id"`
	UniqueID           string `json:"unique_id,omitempty"`
	Active             bool   `json:"active"`
	Description        string `json:"description,omitempty"`
	Encodings          string `json:"encodings"`
	EventCount         int64  `json:"event_count"`
	MaxSimplexConn     int    `json:"max_simplex_connections"`
	MaxSimplexPerMin   int    `json:"max_simplex_connections_per_minute"`
	MaxDuplexConn      int    `json:"max_duplex_connections"`
	MaxDuplexPerMin    int    `json:"max_duplex_connections_per_minute"`
	MaxEvents          int    `json:"max_events"`
	LimitInterval      string `json:"limit_interval"`
	LastSimplexConnect string `json:"last_simplex_connect,omitempty"`
	LastDuplexConnect  string `json:"last_duplex_connect,omitempty"`
}

func accountToView(a *store.Account) *accountView {
	return &accountView{
		Name:        a.Name,
		Active:      a.Active,
		Description: a.Description,
	}
}

func accountsToView(accounts []*store.Account) []*accountView {
	views := make([]*accountView, 0, len(accounts))
	for _, a := range accounts {
		views = append(views, accountToView(a))
	}

	return views
}

func deviceToView(d *store.Device) *deviceView {
	v := &deviceView{
		AccountID:        d.AccountID,
		DeviceID:         d.DeviceID,
		UniqueID:         d.UniqueID,
		Active:           d.Active,
		Description:      d.Description,
		Encodings:        d.Encodings.String(),
		EventCount:       d.EventCount,
		MaxSimplexConn:   d.Limits.MaxSimplexConn,
		MaxSimplexPerMin: d.Limits.MaxSimplexConnPerMin,
		MaxDuplexConn:    d.Limits.MaxDuplexConn,
		MaxDuplexPerMin:  d.Limits.MaxDuplexConnPerMin,
		MaxEvents:        d.Limits.MaxAllowedEvents,
		LimitInterval:    d.Limits.LimitInterval.String(),
	}

	if d.LastSimplexConnect != 0 {
		v.LastSimplexConnect = time.Unix(d.LastSimplexConnect, 0).UTC().Format(time.RFC3339)
	}
	if d.LastDuplexConnect != 0 {
		v.LastDuplexConnect = time.Unix(d.LastDuplexConnect, 0).UTC().Format(time.RFC3339)
	}

	return v
}

func devicesToView(devices []*store.Device) []*deviceView {
	views := make([]*deviceView, 0, len(devices))
	for _, d := range devices {
		views = append(views, deviceToView(d))
	}

	return views
}

// marshalJSON pretty-prints any view value.
func marshalJSON(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal to JSON: %w", err)
	}

	return string(data), nil
}
