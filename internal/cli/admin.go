package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Operator commands (require an admin key)",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := cmd.Root().PersistentPreRunE(cmd, args); err != nil {
				return err
			}
			if cfg.AdminKey == "" {
				return fmt.Errorf("--admin-key is required")
			}
			client = client.WithAdminKey(cfg.AdminKey)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfg.AdminKey, "admin-key", cfg.AdminKey, "Admin key (env: LEMONCTL_ADMIN_KEY)")

	cmd.AddCommand(newAdminGrantCmd())
	cmd.AddCommand(newAdminGrantsCmd())
	cmd.AddCommand(newAdminPendingCmd())
	cmd.AddCommand(newAdminReconcileCmd())

	return cmd
}

func newAdminGrantCmd() *cobra.Command {
	var (
		nickname string
		amount   int64
		preset   int64
	)

	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Grant spins to a player",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := map[string]any{"nickname": nickname}
			if cmd.Flags().Changed("preset") {
				req["preset"] = preset
			} else {
				req["amount"] = amount
			}
			var result GrantResult

			if err := client.Post("/api/v1/admin/grants", req, &result); err != nil {
				return err
			}

			output(cmd).Print(result)
			return nil
		},
	}

	cmd.Flags().StringVar(&nickname, "nickname", "", "Player nickname (required)")
	cmd.Flags().Int64Var(&amount, "amount", 0, "Number of spins to grant")
	cmd.Flags().Int64Var(&preset, "preset", 0, "Grant a fixed preset of 5 or 10 spins")
	_ = cmd.MarkFlagRequired("nickname")
	cmd.MarkFlagsOneRequired("amount", "preset")
	cmd.MarkFlagsMutuallyExclusive("amount", "preset")

	return cmd
}

func newAdminGrantsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "grants",
		Short: "List recent grants, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			var result []Grant
			if err := client.Get(fmt.Sprintf("/api/v1/admin/grants?limit=%d", limit), &result); err != nil {
				return err
			}

			output(cmd).Print(result)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum grants to show")

	return cmd
}

func newAdminPendingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List rewards awaiting reconciliation",
		RunE: func(cmd *cobra.Command, args []string) error {
			var result []PendingCredit
			if err := client.Get("/api/v1/admin/reconciliation", &result); err != nil {
				return err
			}

			output(cmd).Print(result)
			return nil
		},
	}
}

func newAdminReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Retry crediting parked rewards",
		RunE: func(cmd *cobra.Command, args []string) error {
			var result ReconcileResult
			if err := client.Post("/api/v1/admin/reconciliation/run", nil, &result); err != nil {
				return err
			}

			output(cmd).Print(result)
			return nil
		},
	}
}
