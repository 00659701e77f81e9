// Streetlight Database CLI Tool
// Provides read-only command-line access to the fleet database
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/aryanshmalviya/street-light-management-system-BE/internal/fleet"
	"github.com/aryanshmalviya/street-light-management-system-BE/internal/maintenance"
	"github.com/aryanshmalviya/street-light-management-system-BE/internal/storage"
)

type options struct {
	dbPath   string
	zone     string
	status   string
	openOnly bool
	limit    int
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           "streetlight-db",
		Short:         "Streetlight Database CLI",
		Long:          "Command-line tool for inspecting the streetlight fleet database.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.dbPath, "database", "d", "/var/lib/streetlight/fleet.db", "Database file path")

	polesCmd := &cobra.Command{
		Use:   "poles",
		Short: "List poles",
		RunE:  withDB(opts, listPoles),
	}
	polesCmd.Flags().StringVar(&opts.zone, "zone", "", "Only poles in this zone")

	telemetryCmd := &cobra.Command{
		Use:   "telemetry [pole-id]",
		Short: "Show recent telemetry for a pole",
		Args:  cobra.ExactArgs(1),
		RunE:  withDB(opts, showTelemetry),
	}
	telemetryCmd.Flags().IntVarP(&opts.limit, "limit", "n", 20, "Number of records to show")

	ticketsCmd := &cobra.Command{
		Use:   "tickets",
		Short: "Show maintenance tickets",
		RunE:  withDB(opts, showTickets),
	}
	ticketsCmd.Flags().StringVar(&opts.zone, "zone", "", "Only tickets in this zone")
	ticketsCmd.Flags().StringVar(&opts.status, "status", "", "Only tickets with this status")
	ticketsCmd.Flags().IntVarP(&opts.limit, "limit", "n", 50, "Number of records to show")

	faultsCmd := &cobra.Command{
		Use:   "faults",
		Short: "Show faults",
		RunE:  withDB(opts, showFaults),
	}
	faultsCmd.Flags().BoolVar(&opts.openOnly, "open", false, "Only open faults")
	faultsCmd.Flags().IntVarP(&opts.limit, "limit", "n", 50, "Number of records to show")

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show database statistics",
		RunE:  withDB(opts, showStats),
	}

	queryCmd := &cobra.Command{
		Use:   "query [sql]",
		Short: "Execute a raw SQL query",
		Args:  cobra.ExactArgs(1),
		RunE:  withDB(opts, executeQuery),
	}

	rootCmd.AddCommand(polesCmd, telemetryCmd, ticketsCmd, faultsCmd, statsCmd, queryCmd)
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type runFunc func(ctx context.Context, db *storage.DB, out io.Writer, opts *options, args []string) error

// withDB opens the database read-only around a subcommand
func withDB(opts *options, fn runFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		db, err := storage.OpenReadOnly(opts.dbPath)
		if err != nil {
			return err
		}
		defer db.Close()
		return fn(cmd.Context(), db, cmd.OutOrStdout(), opts, args)
	}
}

func listPoles(ctx context.Context, db *storage.DB, out io.Writer, opts *options, args []string) error {
	poles, err := db.ListAssets(ctx, opts.zone)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "POLE\tZONE\tCONTROLLER\tFIXTURE\tWATTS\tLAT\tLON\tSTATUS")
	fmt.Fprintln(w, "----\t----\t----------\t-------\t-----\t---\t---\t------")
	for _, p := range poles {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%.5f\t%.5f\t%s\n",
			p.PoleID, p.ZoneID, dash(p.ControllerID), dash(p.FixtureType),
			p.WattageW, p.Latitude, p.Longitude, p.Status)
	}
	return w.Flush()
}

func showTelemetry(ctx context.Context, db *storage.DB, out io.Writer, opts *options, args []string) error {
	samples, err := db.TelemetryByPole(ctx, args[0], opts.limit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tSTATE\tVOLTS\tAMPS\tWATTS\tKWH\tLUX\tTEMP\tDIM\tFAULT")
	fmt.Fprintln(w, "----\t-----\t-----\t----\t-----\t---\t---\t----\t---\t-----")
	for _, s := range samples {
		fault := "-"
		if s.FaultCode != nil {
			fault = *s.FaultCode
		}
		fmt.Fprintf(w, "%s\t%s\t%.1f\t%.2f\t%.1f\t%.2f\t%.0f\t%.1f\t%d%%\t%s\n",
			formatTime(s.TS), s.State, s.Voltage, s.CurrentA, s.PowerW, s.EnergyKWh,
			s.AmbientLux, s.TemperatureC, s.DimmingLevel, fault)
	}
	return w.Flush()
}

func showTickets(ctx context.Context, db *storage.DB, out io.Writer, opts *options, args []string) error {
	f := storage.TicketFilter{Limit: opts.limit, NewestFirst: true}
	if !maintenance.IsAllZones(opts.zone) {
		f.ZoneID = opts.zone
	}
	if opts.status != "" {
		st, err := fleet.ParseTicketStatus(opts.status)
		if err != nil {
			return err
		}
		f.Statuses = []fleet.TicketStatus{st}
	}

	tickets, err := db.QueryTickets(ctx, f)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TICKET\tPOLE\tZONE\tSTATUS\tASSIGNEE\tSLA\tAGE\tDESCRIPTION")
	fmt.Fprintln(w, "------\t----\t----\t------\t--------\t---\t---\t-----------")
	for _, t := range tickets {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%dh\t%s\t%s\n",
			shortID(t.TicketID), t.PoleID, t.ZoneID, t.Status, dash(t.AssignedTo),
			t.SLAHours, formatDuration(time.Since(t.CreatedAt)), truncate(t.Description, 40))
	}
	return w.Flush()
}

func showFaults(ctx context.Context, db *storage.DB, out io.Writer, opts *options, args []string) error {
	var (
		list []*storage.Fault
		err  error
	)
	if opts.openOnly {
		list, err = db.ListOpenFaults(ctx, opts.limit)
	} else {
		list, err = db.ListFaults(ctx, opts.limit)
	}
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FAULT\tPOLE\tZONE\tCODE\tSEVERITY\tSTATUS\tDETECTED\tRESOLVED")
	fmt.Fprintln(w, "-----\t----\t----\t----\t--------\t------\t--------\t--------")
	for _, f := range list {
		resolved := "-"
		if f.ResolvedAt != nil {
			resolved = formatTime(*f.ResolvedAt)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			shortID(f.FaultID), f.PoleID, f.ZoneID, f.FaultCode, f.Severity, f.Status,
			formatTime(f.DetectedAt), resolved)
	}
	return w.Flush()
}

func showStats(ctx context.Context, db *storage.DB, out io.Writer, opts *options, args []string) error {
	zones, err := db.ListZones(ctx)
	if err != nil {
		return err
	}
	poles, err := db.ListAssets(ctx, "")
	if err != nil {
		return err
	}
	samples, err := db.CountTelemetry(ctx, "")
	if err != nil {
		return err
	}
	openFaults, err := db.ListOpenFaults(ctx, -1)
	if err != nil {
		return err
	}
	tickets, err := db.TicketStats(ctx, "")
	if err != nil {
		return err
	}

	fmt.Fprintln(out, "Database Statistics")
	fmt.Fprintln(out, "===================")
	fmt.Fprintf(out, "Zones: %d\n", len(zones))
	fmt.Fprintf(out, "Poles: %d\n", len(poles))
	fmt.Fprintf(out, "Telemetry samples: %d\n", samples)
	fmt.Fprintf(out, "Open faults: %d\n", len(openFaults))
	fmt.Fprintf(out, "Tickets: %d (pending: %d, assigned: %d, in progress: %d, completed: %d)\n",
		tickets.Total, tickets.Pending, tickets.Assigned, tickets.InProgress, tickets.Completed)
	return nil
}

func executeQuery(ctx context.Context, db *storage.DB, out io.Writer, opts *options, args []string) error {
	query := args[0]

	// Only allow SELECT queries
	if !strings.HasPrefix(strings.ToUpper(strings.TrimSpace(query)), "SELECT") {
		return fmt.Errorf("only SELECT queries are allowed")
	}

	rows, err := db.Conn().QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(cols, "\t"))
	fmt.Fprintln(w, strings.Repeat("-\t", len(cols)))

	values := make([]any, len(cols))
	valuePtrs := make([]any, len(cols))
	for i := range values {
		valuePtrs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(valuePtrs...); err != nil {
			return err
		}
		row := make([]string, 0, len(values))
		for _, v := range values {
			switch val := v.(type) {
			case nil:
				row = append(row, "NULL")
			case []byte:
				row = append(row, string(val))
			case time.Time:
				row = append(row, formatTime(val))
			default:
				row = append(row, fmt.Sprintf("%v", val))
			}
		}
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	if err := rows.Err(); err != nil {
		return err
	}
	return w.Flush()
}

func formatTime(t time.Time) string {
	return t.Local().Format("2006-01-02 15:04:05")
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	return fmt.Sprintf("%dd", int(d.Hours()/24))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
