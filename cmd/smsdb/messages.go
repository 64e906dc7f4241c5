// ABOUTME: Message subcommands: init, save, receive, send, get, delete and mark-read
// ABOUTME: Each command runs one service call and prints the result to stdout

package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/smsdb/internal/store"
)

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create or upgrade the message store",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, _ []string, a *app) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s\n", color.GreenString("Store ready:"), a.store.Path())
			fmt.Fprintf(out, "  backend:        %s\n", a.store.Backend())
			fmt.Fprintf(out, "  schema version: %d\n", a.store.SchemaVersion())
			fmt.Fprintf(out, "  last key:       %d\n", a.store.LastKey())
			return nil
		}),
	}
}

func newSaveCmd() *cobra.Command {
	var (
		delivery, sender, receiver, body, at string
		read                                 bool
	)

	cmd := &cobra.Command{
		Use:   "save",
		Short: "Store a message with explicit fields",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, _ []string, a *app) error {
			ts, err := parseTimeFlag("at", at)
			if err != nil {
				return err
			}
			id, err := a.svc.SaveMessage(cmd.Context(), &store.Message{
				Delivery:  store.Delivery(delivery),
				Sender:    sender,
				Receiver:  receiver,
				Body:      body,
				Timestamp: ts,
				Read:      read,
			})
			if err != nil {
				return fmt.Errorf("saving message: %w", err)
			}
			printSaved(cmd.OutOrStdout(), id)
			return nil
		}),
	}

	cmd.Flags().StringVar(&delivery, "delivery", "", "sent or received")
	cmd.Flags().StringVar(&sender, "sender", "", "sender number")
	cmd.Flags().StringVar(&receiver, "receiver", "", "receiver number")
	cmd.Flags().StringVar(&body, "body", "", "message text")
	cmd.Flags().StringVar(&at, "at", "", "timestamp (RFC3339, default now)")
	cmd.Flags().BoolVar(&read, "read", false, "mark the message read")
	_ = cmd.MarkFlagRequired("delivery")

	return cmd
}

func newReceiveCmd() *cobra.Command {
	var from, body, at string

	cmd := &cobra.Command{
		Use:   "receive",
		Short: "Store an incoming message to the local number",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, _ []string, a *app) error {
			ts, err := parseTimeFlag("at", at)
			if err != nil {
				return err
			}
			id, err := a.svc.SaveReceivedMessage(cmd.Context(), from, body, ts)
			if err != nil {
				return fmt.Errorf("saving received message: %w", err)
			}
			printSaved(cmd.OutOrStdout(), id)
			return nil
		}),
	}

	cmd.Flags().StringVar(&from, "from", "", "sender number")
	cmd.Flags().StringVar(&body, "body", "", "message text")
	cmd.Flags().StringVar(&at, "at", "", "timestamp (RFC3339, default now)")
	_ = cmd.MarkFlagRequired("from")

	return cmd
}

func newSendCmd() *cobra.Command {
	var to, body, at string

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Store an outgoing message from the local number",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, _ []string, a *app) error {
			ts, err := parseTimeFlag("at", at)
			if err != nil {
				return err
			}
			id, err := a.svc.SaveSentMessage(cmd.Context(), to, body, ts)
			if err != nil {
				return fmt.Errorf("saving sent message: %w", err)
			}
			printSaved(cmd.OutOrStdout(), id)
			return nil
		}),
	}

	cmd.Flags().StringVar(&to, "to", "", "receiver number")
	cmd.Flags().StringVar(&body, "body", "", "message text")
	cmd.Flags().StringVar(&at, "at", "", "timestamp (RFC3339, default now)")
	_ = cmd.MarkFlagRequired("to")

	return cmd
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get ID",
		Short: "Show one message",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			msg, err := a.svc.GetMessage(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("getting message %d: %w", id, err)
			}
			printMessage(cmd.OutOrStdout(), msg)
			return nil
		}),
	}
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete one message",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			deleted, err := a.svc.DeleteMessage(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("deleting message %d: %w", id, err)
			}
			out := cmd.OutOrStdout()
			if !deleted {
				fmt.Fprintf(out, "%s message %d does not exist\n", color.YellowString("Not deleted:"), id)
				return nil
			}
			fmt.Fprintf(out, "%s message %d\n", color.GreenString("Deleted:"), id)
			return nil
		}),
	}
}

func newMarkReadCmd() *cobra.Command {
	var unread bool

	cmd := &cobra.Command{
		Use:   "mark-read ID",
		Short: "Set the read flag of a message",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			read, err := a.svc.MarkMessageRead(cmd.Context(), id, !unread)
			if err != nil {
				return fmt.Errorf("marking message %d: %w", id, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Message %d read: %t\n", id, read)
			return nil
		}),
	}

	cmd.Flags().BoolVar(&unread, "unread", false, "clear the read flag instead")

	return cmd
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid message id %q", s)
	}
	return id, nil
}

// parseTimeFlag parses an RFC3339 flag value. Empty means now.
func parseTimeFlag(name, value string) (time.Time, error) {
	if value == "" {
		return time.Now(), nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s: %w", name, err)
	}
	return t, nil
}

func printSaved(w io.Writer, id int64) {
	fmt.Fprintf(w, "%s message %d\n", color.GreenString("Saved:"), id)
}

func printMessage(w io.Writer, msg *store.Message) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "ID:\t%d\n", msg.ID)
	fmt.Fprintf(tw, "Delivery:\t%s\n", msg.Delivery)
	fmt.Fprintf(tw, "Sender:\t%s\n", msg.Sender)
	fmt.Fprintf(tw, "Receiver:\t%s\n", msg.Receiver)
	fmt.Fprintf(tw, "Timestamp:\t%s\n", msg.Timestamp.UTC().Format(time.RFC3339))
	fmt.Fprintf(tw, "Read:\t%t\n", msg.Read)
	fmt.Fprintf(tw, "Body:\t%s\n", msg.Body)
	tw.Flush()
}

// isNotFound reports whether err is a missing message or list.
func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
