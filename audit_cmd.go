package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/tabula/internal/config"
	"github.com/hazyhaar/tabula/internal/db"
	"github.com/hazyhaar/tabula/pkg/audit"
)

func newAuditCmd() *cobra.Command {
	var f audit.Filter
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Print recent tool calls from the audit journal as JSON lines",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if _, err := os.Stat(cfg.Audit.Path); err != nil {
				return fmt.Errorf("audit journal %s: %w", cfg.Audit.Path, err)
			}
			journal, err := db.Open(cfg.Audit.Path, audit.Schema)
			if err != nil {
				return err
			}
			defer journal.Close()

			entries, err := audit.Recent(cmd.Context(), journal.DB, f)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, e := range entries {
				if err := enc.Encode(e); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&f.Action, "action", "", "only this tool")
	cmd.Flags().StringVar(&f.Status, "status", "", "success, denied, timeout or error")
	cmd.Flags().StringVar(&f.UserID, "user", "", "only this user id")
	cmd.Flags().IntVar(&f.Limit, "limit", audit.DefaultRecentLimit, "maximum entries")
	return cmd
}
