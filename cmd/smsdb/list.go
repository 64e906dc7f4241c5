// ABOUTME: list, stats and version subcommands
// ABOUTME: list pages through a filtered message list until it is exhausted

package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/smsdb/internal/pager"
	"github.com/2389/smsdb/internal/store"
)

func newListCmd() *cobra.Command {
	var (
		start, end, delivery string
		numbers              []string
		read, unread         bool
		reverse              bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List messages matching a filter",
		Long: `List messages ordered by timestamp. All filters combine; a message
must match every one that is set. --number matches either sender or
receiver and may be repeated.`,
		Args: cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, _ []string, a *app) error {
			f := store.Filter{
				Delivery: store.Delivery(delivery),
				Numbers:  numbers,
				Reverse:  reverse,
			}
			if start != "" {
				t, err := parseTimeFlag("start", start)
				if err != nil {
					return err
				}
				f.StartDate = &t
			}
			if end != "" {
				t, err := parseTimeFlag("end", end)
				if err != nil {
					return err
				}
				f.EndDate = &t
			}
			switch {
			case read && unread:
				return errors.New("--read and --unread are mutually exclusive")
			case read:
				v := true
				f.Read = &v
			case unread:
				v := false
				f.Read = &v
			}

			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			listID, msg, err := a.svc.CreateMessageList(ctx, f)
			if errors.Is(err, pager.ErrNoMessages) {
				fmt.Fprintln(out, "No messages found.")
				return nil
			}
			if err != nil {
				return fmt.Errorf("creating message list: %w", err)
			}
			defer a.svc.ClearMessageList(listID)

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tDIRECTION\tFROM\tTO\tTIME\tREAD\tBODY")
			fmt.Fprintln(w, "--\t---------\t----\t--\t----\t----\t----")

			count := 0
			for {
				printRow(w, msg)
				count++

				msg, err = a.svc.GetNextMessageInList(ctx, listID)
				for isNotFound(err) && !errors.Is(err, pager.ErrListNotFound) {
					// Deleted since the list was created.
					msg, err = a.svc.GetNextMessageInList(ctx, listID)
				}
				if errors.Is(err, pager.ErrEndOfList) {
					break
				}
				if err != nil {
					w.Flush()
					return fmt.Errorf("reading message list: %w", err)
				}
			}
			w.Flush()

			fmt.Fprintf(out, "\n%s\n", color.HiBlackString("%d message(s)", count))
			return nil
		}),
	}

	cmd.Flags().StringVar(&start, "start", "", "earliest timestamp (RFC3339, inclusive)")
	cmd.Flags().StringVar(&end, "end", "", "latest timestamp (RFC3339, inclusive)")
	cmd.Flags().StringVar(&delivery, "delivery", "", "sent or received")
	cmd.Flags().StringSliceVar(&numbers, "number", nil, "sender or receiver number (repeatable)")
	cmd.Flags().BoolVar(&read, "read", false, "only read messages")
	cmd.Flags().BoolVar(&unread, "unread", false, "only unread messages")
	cmd.Flags().BoolVar(&reverse, "reverse", false, "newest first")

	return cmd
}

func printRow(w *tabwriter.Writer, msg *store.Message) {
	fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%t\t%s\n",
		msg.ID,
		msg.Delivery,
		dashIfEmpty(msg.Sender),
		dashIfEmpty(msg.Receiver),
		msg.Timestamp.UTC().Format(time.RFC3339),
		msg.Read,
		truncate(msg.Body, 40))
}

func dashIfEmpty(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show message count, last key and schema version",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, _ []string, a *app) error {
			stats, err := a.svc.Stats(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "Backend:\t%s\n", stats.Backend)
			fmt.Fprintf(w, "Path:\t%s\n", stats.Path)
			fmt.Fprintf(w, "Schema version:\t%d\n", stats.SchemaVersion)
			fmt.Fprintf(w, "Messages:\t%d\n", stats.Messages)
			fmt.Fprintf(w, "Last key:\t%d\n", stats.LastKey)
			if msisdn := a.svc.MSISDN(); msisdn != "" {
				fmt.Fprintf(w, "Local number:\t%s\n", msisdn)
			}
			return w.Flush()
		}),
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "smsdb %s\n", version)
		},
	}
}
