package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/remiblancher/asic/pkg/audit"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit log management",
	Long: `Commands for verifying and reading audit logs.

The audit log is a tamper-evident record of signing operations, OCSP and
timestamp requests and container saves. Each event is chained to the
previous one with SHA-256.

Examples:
  # Verify audit log integrity
  asic audit verify /var/log/asic/audit.jsonl

  # Show last 10 events
  asic audit tail /var/log/asic/audit.jsonl -n 10`,
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify <log>",
	Short: "Verify audit log integrity",
	Long: `Verify the cryptographic hash chain of an audit log file.

Each event in the log contains:
  - hash_prev: SHA-256 hash of the previous event
  - hash: SHA-256 hash of the current event

The chain starts with hash_prev="sha256:genesis" for the first event.`,
	Args: cobra.ExactArgs(1),
	RunE: runAuditVerify,
}

var auditTailCmd = &cobra.Command{
	Use:   "tail <log>",
	Short: "Show recent audit events",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuditTail,
}

var (
	auditTailNum  int
	auditShowJSON bool
)

func init() {
	auditTailCmd.Flags().IntVarP(&auditTailNum, "num", "n", 10, "Number of events to show")
	auditTailCmd.Flags().BoolVar(&auditShowJSON, "json", false, "Output as JSON")

	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditTailCmd)
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Verifying audit log: %s\n\n", args[0])

	count, err := audit.VerifyChain(args[0])
	if err != nil {
		fmt.Fprintf(out, "VERIFICATION FAILED\n")
		fmt.Fprintf(out, "  Valid events: %d\n", count)
		fmt.Fprintf(out, "  Error: %s\n", err)
		return fmt.Errorf("audit log verification failed: %w", err)
	}

	fmt.Fprintf(out, "VERIFICATION PASSED\n")
	fmt.Fprintf(out, "  Total events: %d\n", count)
	fmt.Fprintf(out, "  Hash chain: VALID\n")

	return nil
}

func runAuditTail(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	events, err := audit.ReadEvents(args[0])
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Fprintln(out, "Audit log is empty")
		return nil
	}

	if len(events) > auditTailNum {
		events = events[len(events)-auditTailNum:]
	}

	if auditShowJSON {
		lines := make([]string, 0, len(events))
		for _, e := range events {
			data, err := e.JSON()
			if err != nil {
				return err
			}
			lines = append(lines, string(data))
		}
		fmt.Fprintln(out, "[")
		fmt.Fprint(out, strings.Join(lines, ",\n"))
		fmt.Fprintln(out, "\n]")
		return nil
	}

	for _, e := range events {
		printEvent(out, e)
	}
	return nil
}

func printEvent(w io.Writer, e *audit.Event) {
	resultIcon := "✓"
	if e.Result == audit.ResultFailure {
		resultIcon = "✗"
	}

	fmt.Fprintf(w, "[%s] %s %s\n", e.Timestamp, resultIcon, e.EventType)
	fmt.Fprintf(w, "    Actor:  %s@%s\n", e.Actor.ID, e.Actor.Host)

	if e.Object.Type != "" {
		fmt.Fprintf(w, "    Object: %s", e.Object.Type)
		for _, kv := range [][2]string{
			{"id", e.Object.ID},
			{"serial", e.Object.Serial},
			{"subject", e.Object.Subject},
			{"path", e.Object.Path},
		} {
			if kv[1] != "" {
				fmt.Fprintf(w, " %s=%s", kv[0], kv[1])
			}
		}
		fmt.Fprintln(w)
	}

	ctx := [][2]string{
		{"profile", e.Context.Profile},
		{"container", e.Context.Container},
		{"algorithm", e.Context.Algorithm},
		{"url", e.Context.URL},
		{"status", e.Context.Status},
		{"gen_time", e.Context.GenTime},
		{"reason", e.Context.Reason},
	}
	ctx = lo.Filter(ctx, func(kv [2]string, _ int) bool { return kv[1] != "" })
	if len(ctx) > 0 {
		fmt.Fprint(w, "    Context:")
		for _, kv := range ctx {
			fmt.Fprintf(w, " %s=%s", kv[0], kv[1])
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w)
}
