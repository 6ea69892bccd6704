package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spa-admin/session-engine/billing"
)

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.Flags().Bool("all", false, "Also print informational findings")
}

var auditCmd = &cobra.Command{
	Use:   "audit [ASSIGNMENT_ID]",
	Short: "Check derived counters, balances and commission flags",
	Long: `Recompute remaining-session counters, payment balances and commission
flags from the stored sessions and ledger, and compare them to the stored
values. Exits 1 when any non-informational discrepancy is found.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAudit,
}

func runAudit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	lg := newLogger(cmd, cfg)
	store, err := openStore(cfg, lg)
	if err != nil {
		return err
	}
	defer store.Close()

	auditor := &billing.Auditor{Store: store}
	var ds []billing.Discrepancy
	if len(args) == 1 {
		ds, err = auditor.Check(cmd.Context(), args[0])
	} else {
		ds, err = auditor.CheckAll(cmd.Context())
	}
	if err != nil {
		return err
	}

	showAll, _ := cmd.Flags().GetBool("all")
	out := cmd.OutOrStdout()
	drift := 0
	for _, d := range ds {
		if d.Informational {
			if showAll {
				fmt.Fprintf(out, "info   %s\n", d)
			}
			continue
		}
		drift++
		fmt.Fprintf(out, "DRIFT  %s\n", d)
	}

	if drift > 0 {
		lg.Error("audit", "%d discrepancies found", drift)
		return errDrift
	}
	fmt.Fprintln(out, "no drift")
	return nil
}
