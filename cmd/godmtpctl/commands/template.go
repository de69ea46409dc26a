package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dantte-lp/godmtp/internal/dmtp"
)

// errCustomTypeRange indicates a custom packet type outside 0x70..0x7F.
var errCustomTypeRange = errors.New("custom packet type out of range, expected 0x70 to 0x7F")

func templateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "template",
		Short: "Manage custom payload templates",
	}

	cmd.AddCommand(templateShowCmd())
	cmd.AddCommand(templatePutCmd())

	return cmd
}

// parseCustomType reads a custom packet type argument in any base
// strconv accepts, so 0x70 and 112 both work.
func parseCustomType(s string) (uint8, error) {
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("parse custom type %q: %w", s, err)
	}
	if byte(v) < dmtp.PktClientCustomFirst || byte(v) > dmtp.PktClientCustomLast {
		return 0, fmt.Errorf("%w: 0x%02X", errCustomTypeRange, v)
	}

	return uint8(v), nil
}

// --- template show ---

func templateShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <account> <device> <type>",
		Short: "Show the stored template for a custom packet type",
		Args:  cobra.ExactArgs(3),
		RunE: func(_ *cobra.Command, args []string) error {
			customType, err := parseCustomType(args[2])
			if err != nil {
				return err
			}

			s, err := openStore()
			if err != nil {
				return err
			}

			tmpl, err := s.Template(context.Background(), args[0], args[1], customType)
			if err != nil {
				return fmt.Errorf("get template %s/%s type 0x%02X: %w",
					args[0], args[1], customType, err)
			}

			out, err := formatTemplate(tmpl, outputFormat)
			if err != nil {
				return fmt.Errorf("format template: %w", err)
			}

			fmt.Print(out)

			return nil
		},
	}
}

// --- template put ---

func templatePutCmd() *cobra.Command {
	var repeatLast bool

	cmd := &cobra.Command{
		Use:   "put <account> <device> <type> <fields>",
		Short: "Store a template for a custom packet type",
		Long: "Store a template for a custom packet type. Fields are comma-joined " +
			"type|hires|index|length definitions, for example \"H|8|0|2,H|9|0|2\".",
		Args: cobra.ExactArgs(4),
		RunE: func(_ *cobra.Command, args []string) error {
			customType, err := parseCustomType(args[2])
			if err != nil {
				return err
			}

			tmpl, err := dmtp.ParseTemplate(customType, args[3], repeatLast)
			if err != nil {
				return fmt.Errorf("parse template: %w", err)
			}
			if err := tmpl.Validate(); err != nil {
				return fmt.Errorf("validate template: %w", err)
			}

			s, err := openStore()
			if err != nil {
				return err
			}

			if err := s.PutTemplate(context.Background(), args[0], args[1], tmpl); err != nil {
				return fmt.Errorf("put template %s/%s type 0x%02X: %w",
					args[0], args[1], customType, err)
			}

			fmt.Printf("Template 0x%02X stored for %s/%s.\n", customType, args[0], args[1])

			return nil
		},
	}

	cmd.Flags().BoolVar(&repeatLast, "repeat-last", false,
		"repeat the final field definition for trailing payload bytes")

	return cmd
}

// --- template formatting ---

type templateView struct {
	PacketType string   `json:"packet_type"`
	RepeatLast bool     `json:"repeat_last"`
	Fields     []string `json:"fields"`
}

func formatTemplate(tmpl *dmtp.Template, format string) (string, error) {
	switch format {
	case formatJSON:
		return marshalJSON(templateToView(tmpl))
	case formatTable:
		return formatTemplateTable(tmpl)
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func templateToView(tmpl *dmtp.Template) *templateView {
	fields := tmpl.Fields()
	defs := make([]string, len(fields))
	for i, fd := range fields {
		defs[i] = fd.String()
	}

	return &templateView{
		PacketType: fmt.Sprintf("0x%02X", tmpl.PacketType()),
		RepeatLast: tmpl.RepeatLast(),
		Fields:     defs,
	}
}

func formatTemplateTable(tmpl *dmtp.Template) (string, error) {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	fmt.Fprintf(w, "Packet Type:\t0x%02X\n", tmpl.PacketType())
	fmt.Fprintf(w, "Repeat Last:\t%t\n", tmpl.RepeatLast())
	fmt.Fprintf(w, "Fields:\t%s\n", tmpl.String())

	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("flush tabwriter: %w", err)
	}

	return buf.String(), nil
}
