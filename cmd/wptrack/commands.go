package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/matheus3301/wptrack/internal/api"
	"github.com/matheus3301/wptrack/internal/qr"
	"github.com/spf13/cobra"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

func contactsCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "contacts",
		Short: "List known chats",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.withClient(cmd, o.timeout, func(ctx context.Context, c *api.Client) error {
				resp, err := c.Contacts(ctx)
				if err != nil {
					return err
				}
				if o.json {
					return outputJSON(cmd.OutOrStdout(), resp)
				}
				printContacts(cmd.OutOrStdout(), resp.Contacts)
				return nil
			})
		},
	}
}

func historyCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "history <chat-id> [limit]",
		Short: "Show the latest messages of a chat",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit := 0
			if len(args) == 2 {
				n, err := strconv.Atoi(args[1])
				if err != nil || n <= 0 {
					return fmt.Errorf("invalid limit %q", args[1])
				}
				limit = n
			}
			return o.withClient(cmd, o.timeout, func(ctx context.Context, c *api.Client) error {
				resp, err := c.History(ctx, args[0], limit)
				if err != nil {
					return err
				}
				if o.json {
					return outputJSON(cmd.OutOrStdout(), resp)
				}
				printHistory(cmd.OutOrStdout(), args[0], resp.Messages)
				return nil
			})
		},
	}
}

func mediaCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "media <message-id>",
		Short: "Show the attachment recorded for a message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withClient(cmd, o.timeout, func(ctx context.Context, c *api.Client) error {
				resp, err := c.MediaInfo(ctx, args[0])
				if grpcstatus.Code(err) == codes.NotFound && !o.json {
					fmt.Fprintln(cmd.OutOrStdout(), "No media found for this message ID.")
					return nil
				}
				if err != nil {
					return err
				}
				if o.json {
					return outputJSON(cmd.OutOrStdout(), resp)
				}
				printMedia(cmd.OutOrStdout(), &resp.Media)
				return nil
			})
		},
	}
}

func exportCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "export <chat-id> <directory>",
		Short: "Copy every saved attachment of a chat into a directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := filepath.Abs(args[1])
			if err != nil {
				return err
			}
			return o.withClient(cmd, o.timeout, func(ctx context.Context, c *api.Client) error {
				resp, err := c.Export(ctx, args[0], dir)
				if err != nil {
					return err
				}
				if o.json {
					return outputJSON(cmd.OutOrStdout(), resp)
				}
				printExport(cmd.OutOrStdout(), args[0], &resp.Result)
				return nil
			})
		},
	}
}

func sendCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "send <chat-id> <text...>",
		Short: "Send a text message",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args[1:], " ")
			return o.withClient(cmd, o.timeout, func(ctx context.Context, c *api.Client) error {
				resp, err := c.Send(ctx, args[0], text)
				if err != nil {
					return err
				}
				if o.json {
					return outputJSON(cmd.OutOrStdout(), resp)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Message sent (ID: %s)\n", resp.Result.MessageID)
				return nil
			})
		},
	}
}

func logoutCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Log out of WhatsApp and unlink this device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.withClient(cmd, o.timeout, func(ctx context.Context, c *api.Client) error {
				if err := c.Logout(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Logged out successfully.")
				return nil
			})
		},
	}
}

func statusCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon and session status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.withClient(cmd, o.timeout, func(ctx context.Context, c *api.Client) error {
				resp, err := c.Status(ctx)
				if err != nil {
					return err
				}
				if o.json {
					return outputJSON(cmd.OutOrStdout(), resp)
				}
				printStatus(cmd.OutOrStdout(), resp)
				return nil
			})
		},
	}
}

// qrCmd reads the QR file directly so pairing works even while the daemon
// is busy or its socket is not reachable.
func qrCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "qr",
		Short: "Render the pending pairing QR code",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			layout, profile, err := o.layout()
			if err != nil {
				return err
			}
			payload, err := qr.NewFile(layout.QRPath()).Read()
			if errors.Is(err, os.ErrNotExist) || errors.Is(err, qr.ErrNoPayload) {
				fmt.Fprintf(cmd.OutOrStdout(), "No pending QR code for profile %q.\n", profile)
				return nil
			}
			if err != nil {
				return err
			}
			if o.json {
				return outputJSON(cmd.OutOrStdout(), map[string]string{"profile": profile, "payload": payload})
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Scan with WhatsApp > Linked devices > Link a device:")
			fmt.Fprint(cmd.OutOrStdout(), qr.Render(payload))
			return nil
		},
	}
}

func watchCmd(o *options) *cobra.Command {
	var namespace string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream daemon events until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.withClient(cmd, 0, func(ctx context.Context, c *api.Client) error {
				err := c.Watch(ctx, namespace, func(evt *api.WatchEvent) error {
					if o.json {
						return outputJSONLine(cmd.OutOrStdout(), evt)
					}
					printEvent(cmd.OutOrStdout(), evt)
					return nil
				})
				if ctx.Err() != nil {
					return nil
				}
				return err
			})
		},
	}
	cmd.Flags().StringVar(&namespace, "filter", "", "only show events whose kind starts with this prefix (message., session.)")
	return cmd
}
