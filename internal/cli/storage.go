package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/spf13/cobra"
	"github.com/wwwzy/sweepchat/internal/housekeeping"
	"github.com/wwwzy/sweepchat/internal/storage"
)

var storageCmd = &cobra.Command{
	Use:   "storage",
	Short: "Inspect and maintain the database",
	Long:  `Show database statistics, read conversation history and prune old turns or audit records.`,
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show database statistics",
	RunE:  runInfo,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the conversation of a sender",
	RunE:  runHistory,
}

var pruneAuditCmd = &cobra.Command{
	Use:   "prune-audit",
	Short: "Delete old tool audit records",
	Long:  `Delete tool audit records, keeping the newest --keep records or those of the last --days days.`,
	RunE:  runPruneAudit,
}

var pruneTurnsCmd = &cobra.Command{
	Use:   "prune-turns",
	Short: "Delete conversation turn records older than --days days",
	RunE:  runPruneTurns,
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Run the configured retention policy once",
	Long:  `Run one retention pass now, ignoring the schedule. Uses the retention section of the config file.`,
	RunE:  runPrune,
}

var (
	historySender string
	historyLimit  int
	historyRaw    bool

	keepAuditCount int
	keepAuditDays  int
	keepTurnDays   int
)

func init() {
	rootCmd.AddCommand(storageCmd)
	storageCmd.AddCommand(infoCmd, historyCmd, pruneAuditCmd, pruneTurnsCmd, pruneCmd)

	historyCmd.Flags().StringVar(&historySender, "sender", "", "sender identifier, e.g. +15551234567")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "number of most recent turns to show")
	historyCmd.Flags().BoolVar(&historyRaw, "messages", false, "show the full agent message history instead of turns")
	_ = historyCmd.MarkFlagRequired("sender")

	pruneAuditCmd.Flags().IntVar(&keepAuditCount, "keep", 0, "keep the newest N records")
	pruneAuditCmd.Flags().IntVar(&keepAuditDays, "days", 0, "keep records of the last N days")

	pruneTurnsCmd.Flags().IntVar(&keepTurnDays, "days", 0, "keep turns of the last N days")
}

func openStorage(ctx context.Context) (*storage.Storage, error) {
	if cfg == nil {
		return nil, errors.New("config not loaded")
	}
	storeCfg := cfg.Storage
	if log != nil {
		storeCfg.Logger = log
	}
	store, err := storage.Open(ctx, storeCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return store, nil
}

func runInfo(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	dbPath := cfg.Storage.Path
	if !filepath.IsAbs(dbPath) {
		if absPath, err := filepath.Abs(dbPath); err == nil {
			dbPath = absPath
		}
	}

	var dbSize string
	info, err := os.Stat(dbPath)
	switch {
	case os.IsNotExist(err):
		dbSize = "Not Found (Will be created on first run)"
	case err != nil:
		dbSize = fmt.Sprintf("Error: %v", err)
	default:
		dbSize = fmt.Sprintf("%.2f MB (%s)", float64(info.Size())/1024/1024, dbPath)
	}

	store, err := openStorage(ctx)
	if err != nil {
		fmt.Fprintf(out, "Database File: %s\n", dbSize)
		return err
	}
	defer store.Close()

	counts := []struct {
		table string
		count func(context.Context) (int64, error)
	}{
		{"Threads", store.CountThreads},
		{"ThreadMessages", store.CountThreadMessages},
		{"ConversationTurns", store.CountTurns},
		{"AuditRecords", store.CountAuditRecords},
	}

	fmt.Fprintf(out, "Database File: %s\n\n", dbSize)
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "Table\tCount")
	fmt.Fprintln(w, "-----\t-----")
	for _, c := range counts {
		n, err := c.count(ctx)
		if err != nil {
			fmt.Fprintf(w, "%s\terror: %v\n", c.table, err)
			continue
		}
		fmt.Fprintf(w, "%s\t%d\n", c.table, n)
	}
	return w.Flush()
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	store, err := openStorage(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	th, err := store.GetThreadBySender(ctx, historySender)
	if storage.IsNotFound(err) {
		fmt.Fprintf(out, "No conversation with %s.\n", historySender)
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Thread %s (last active %s)\n\n", th.ThreadID, th.LastActiveAt.Format(time.RFC3339))

	if historyRaw {
		rows, err := store.LoadThreadMessages(ctx, th.ThreadID)
		if err != nil {
			return err
		}
		for _, row := range rows {
			fmt.Fprintln(out, formatThreadMessage(row))
		}
		return nil
	}

	turns, err := store.QueryTurns(ctx, storage.TurnQuery{ThreadID: th.ThreadID, Limit: historyLimit, Desc: true})
	if err != nil {
		return err
	}
	for i := len(turns) - 1; i >= 0; i-- {
		t := turns[i]
		fmt.Fprintf(out, "[%s]\n  customer: %s\n  agent:    %s\n\n", t.CreatedAt.Format(time.RFC3339), t.Message, t.Response)
	}
	return nil
}

func formatThreadMessage(row storage.ThreadMessage) string {
	var msg schema.Message
	if err := json.Unmarshal([]byte(row.Payload), &msg); err != nil {
		return fmt.Sprintf("%4d %-9s (undecodable: %v)", row.Seq, row.Role, err)
	}
	who := string(msg.Role)
	if msg.Name != "" {
		who += "/" + msg.Name
	}
	text := strings.TrimSpace(msg.Content)
	for _, tc := range msg.ToolCalls {
		text += fmt.Sprintf(" -> %s(%s)", tc.Function.Name, tc.Function.Arguments)
	}
	if msg.ToolCallID != "" {
		who += "[" + msg.ToolCallID + "]"
	}
	return fmt.Sprintf("%4d %-9s %s", row.Seq, who, text)
}

func runPruneAudit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if keepAuditCount <= 0 && keepAuditDays <= 0 {
		_ = cmd.Usage()
		return errors.New("must specify either --keep or --days")
	}

	store, err := openStorage(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	var deleted int64
	if keepAuditCount > 0 {
		fmt.Fprintf(out, "Pruning audit records, keeping latest %d records...\n", keepAuditCount)
		n, err := store.DeleteAuditRecordsKeepLatest(ctx, keepAuditCount)
		if err != nil {
			return fmt.Errorf("prune by count: %w", err)
		}
		deleted += n
	}
	if keepAuditDays > 0 {
		before := time.Now().UTC().AddDate(0, 0, -keepAuditDays)
		fmt.Fprintf(out, "Pruning audit records older than %d days (before %s)...\n", keepAuditDays, before.Format(time.RFC3339))
		n, err := drainBefore(ctx, before, store.DeleteAuditRecordsBeforeLimited)
		if err != nil {
			return fmt.Errorf("prune by days: %w", err)
		}
		deleted += n
	}

	fmt.Fprintf(out, "Prune completed. Deleted %d records.\n", deleted)
	if n, err := store.CountAuditRecords(ctx); err == nil {
		fmt.Fprintf(out, "Remaining Audit Records: %d\n", n)
	}
	return nil
}

func runPruneTurns(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if keepTurnDays <= 0 {
		_ = cmd.Usage()
		return errors.New("must specify --days")
	}

	store, err := openStorage(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	before := time.Now().UTC().AddDate(0, 0, -keepTurnDays)
	fmt.Fprintf(out, "Pruning conversation turns older than %d days (before %s)...\n", keepTurnDays, before.Format(time.RFC3339))
	deleted, err := drainBefore(ctx, before, store.DeleteTurnsBeforeLimited)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Prune completed. Deleted %d turns.\n", deleted)
	if n, err := store.CountTurns(ctx); err == nil {
		fmt.Fprintf(out, "Remaining Turns: %d\n", n)
	}
	return nil
}

func runPrune(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	store, err := openStorage(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	r := cfg.Retention
	fmt.Fprintf(out, "Policy: turns %s, audit %s, idle threads %s\n", r.KeepTurns, r.KeepAudit, r.KeepIdleThreads)

	mgr, err := housekeeping.NewManager(r)
	if err != nil {
		return err
	}
	ret, err := housekeeping.NewRetentionCollector(store)
	if err != nil {
		return err
	}
	mgr.WithRetention(ret)
	if err := ret.RunOnce(ctx, time.Now().UTC()); err != nil {
		return fmt.Errorf("prune failed: %w", err)
	}

	fmt.Fprintln(out, "Prune completed successfully.")
	if n, err := store.CountTurns(ctx); err == nil {
		fmt.Fprintf(out, "Remaining Turns: %d\n", n)
	}
	if n, err := store.CountAuditRecords(ctx); err == nil {
		fmt.Fprintf(out, "Remaining Audit Records: %d\n", n)
	}
	if n, err := store.CountThreads(ctx); err == nil {
		fmt.Fprintf(out, "Remaining Threads: %d\n", n)
	}
	return nil
}

type limitedDelete func(ctx context.Context, before time.Time, limit int) (int64, error)

// drainBefore deletes in batches until a batch comes back short.
func drainBefore(ctx context.Context, before time.Time, del limitedDelete) (int64, error) {
	const batch = 500
	var total int64
	for {
		n, err := del(ctx, before, batch)
		if err != nil {
			return total, err
		}
		total += n
		if n < batch {
			return total, nil
		}
	}
}
