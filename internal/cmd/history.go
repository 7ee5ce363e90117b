package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/yoanbernabeu/sshconnector/internal/audit"
	"github.com/yoanbernabeu/sshconnector/internal/constants"
	"github.com/yoanbernabeu/sshconnector/internal/security"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the local command history",
	Long: `Shows the commands run through sshconnector, newest first. History is
recorded when audit.enabled is true in the config file.

Examples:
  sshconnector history
  sshconnector history --server production --failed
  sshconnector history --since 24h --json`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

var historyPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete old history entries",
	Long:  `Deletes history entries older than --days, or than audit.retention_days.`,
	Args:  cobra.NoArgs,
	RunE:  runHistoryPurge,
}

var (
	historyServer string
	historyLimit  int
	historyFailed bool
	historySince  time.Duration
	historyJSON   bool
	purgeDays     int
)

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyPurgeCmd)

	historyCmd.Flags().StringVarP(&historyServer, "server", "s", "", "Only show commands run on this server")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", constants.DefaultHistoryLimit, "Maximum number of entries")
	historyCmd.Flags().BoolVar(&historyFailed, "failed", false, "Only show failed commands")
	historyCmd.Flags().DurationVar(&historySince, "since", 0, "Only show commands newer than this (e.g. 24h)")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Output JSON")

	historyPurgeCmd.Flags().IntVar(&purgeDays, "days", 0, "Delete entries older than this many days")
}

func openHistory() (*audit.Auditor, error) {
	globalCfg, cfgPath, err := loadGlobalConfig()
	if err != nil {
		return nil, err
	}
	if !globalCfg.Audit.Enabled {
		PrintWarning("Command history is disabled; set audit.enabled in %s", cfgPath)
	}
	return audit.Open(globalCfg.HistoryPath(cfgPath), globalCfg.Audit.RetentionDaysOrDefault())
}

func runHistory(cmd *cobra.Command, args []string) error {
	if historyServer != "" {
		if err := security.ValidateServerName(historyServer); err != nil {
			return fmt.Errorf("invalid server name: %w", err)
		}
	}

	auditor, err := openHistory()
	if err != nil {
		return err
	}
	defer auditor.Close()

	opts := audit.QueryOptions{
		Server:     historyServer,
		FailedOnly: historyFailed,
		Limit:      historyLimit,
	}
	if historySince > 0 {
		since := time.Now().Add(-historySince)
		opts.Since = &since
	}

	entries, total, err := auditor.Query(opts)
	if err != nil {
		return fmt.Errorf("failed to query history: %w", err)
	}

	if historyJSON {
		return printHistoryJSON(os.Stdout, entries)
	}
	if len(entries) == 0 {
		PrintInfo("No commands recorded")
		return nil
	}
	if err := printHistory(os.Stdout, entries); err != nil {
		return err
	}
	if total > int64(len(entries)) {
		fmt.Printf("\n%d of %d entries shown\n", len(entries), total)
	}
	return nil
}

func printHistory(w io.Writer, entries []audit.Entry) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tSERVER\tSTATUS\tDURATION\tCOMMAND")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			e.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			e.Server,
			entryStatus(e),
			(time.Duration(e.DurationMs) * time.Millisecond).String(),
			e.Command,
		)
	}
	return tw.Flush()
}

func printHistoryJSON(w io.Writer, entries []audit.Entry) error {
	if entries == nil {
		entries = []audit.Entry{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(entries)
}

func entryStatus(e audit.Entry) string {
	switch {
	case e.Error != "":
		return "error"
	case e.Signal != "":
		return "SIG" + e.Signal
	default:
		return fmt.Sprintf("%d", e.ExitCode)
	}
}

func runHistoryPurge(cmd *cobra.Command, args []string) error {
	auditor, err := openHistory()
	if err != nil {
		return err
	}
	defer auditor.Close()

	days := purgeDays
	if days <= 0 {
		days = auditor.RetentionDays()
	}

	deleted, err := auditor.PurgeOlderThan(days)
	if err != nil {
		return err
	}
	PrintSuccess("Deleted %d entries older than %d days", deleted, days)
	return nil
}
