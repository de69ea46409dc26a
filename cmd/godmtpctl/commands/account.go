package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dantte-lp/godmtp/internal/store"
)

func accountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage accounts",
	}

	cmd.AddCommand(accountListCmd())
	cmd.AddCommand(accountShowCmd())
	cmd.AddCommand(accountAddCmd())
	cmd.AddCommand(accountDeleteCmd())

	return cmd
}

// --- account list ---

func accountListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all accounts",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}

			accounts, err := s.ListAccounts(context.Background())
			if err != nil {
				return fmt.Errorf("list accounts: %w", err)
			}

			out, err := formatAccounts(accounts, outputFormat)
			if err != nil {
				return fmt.Errorf("format accounts: %w", err)
			}

			fmt.Print(out)

			return nil
		},
	}
}

// --- account show ---

func accountShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Show details of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}

			acct, err := s.Account(context.Background(), args[0])
			if err != nil {
				return fmt.Errorf("get account %q: %w", args[0], err)
			}

			out, err := formatAccount(acct, outputFormat)
			if err != nil {
				return fmt.Errorf("format account: %w", err)
			}

			fmt.Print(out)

			return nil
		},
	}
}

// --- account add ---

func accountAddCmd() *cobra.Command {
	var (
		description string
		inactive    bool
	)

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Create or update an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}

			acct := &store.Account{
				Name:        args[0],
				Description: description,
				Active:      !inactive,
			}

			if err := s.UpsertAccount(context.Background(), acct); err != nil {
				return fmt.Errorf("upsert account %q: %w", args[0], err)
			}

			out, err := formatAccount(acct, outputFormat)
			if err != nil {
				return fmt.Errorf("format account: %w", err)
			}

			fmt.Print(out)

			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&description, "description", "", "free-form account description")
	flags.BoolVar(&inactive, "inactive", false, "create the account in the inactive state")

	return cmd
}

// --- account delete ---

func accountDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}

			if err := s.DeleteAccount(context.Background(), args[0]); err != nil {
				return fmt.Errorf("delete account %q: %w", args[0], err)
			}

			fmt.Printf("Account %s deleted.\n", args[0])

			return nil
		},
	}
}
