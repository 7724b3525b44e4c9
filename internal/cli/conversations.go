package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"coachapp/internal/client"

	"github.com/spf13/cobra"
)

// InboxCmd returns the inbox command
func InboxCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inbox",
		Short: "List conversation partners, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := NewContext()
			defer cancel()

			c, _, err := authorizedClient()
			if err != nil {
				return err
			}
			partners, err := c.Conversations(ctx)
			if err != nil {
				return fmt.Errorf("failed to load conversations: %w", err)
			}
			printConversations(os.Stdout, partners)
			return nil
		},
	}
}

// ThreadCmd returns the thread command
func ThreadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "thread <partner-id>",
		Short: "Show the conversation with a partner",
		Long: `Show all messages exchanged with a partner, oldest first.

Opening a conversation marks the partner's messages as read.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := NewContext()
			defer cancel()

			c, session, err := authorizedClient()
			if err != nil {
				return err
			}
			messages, err := c.Messages(ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to load conversation: %w", err)
			}
			printThread(os.Stdout, messages, session.UserID, partnerName(ctx, c, args[0]))
			return nil
		},
	}
}

// SendCmd returns the send command
func SendCmd() *cobra.Command {
	var entityType, entityID string

	cmd := &cobra.Command{
		Use:   "send <partner-id> <content>",
		Short: "Send a message to a partner",
		Long: `Send a message to a partner.

Examples:
  coachctl send 6f1c... "How did the run go?"
  coachctl send 6f1c... "Updated your plan" --entity-type workout_plan --entity-id wp-42`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := NewContext()
			defer cancel()

			c, _, err := authorizedClient()
			if err != nil {
				return err
			}
			msg, err := c.Send(ctx, args[0], client.SendRequest{
				Content:           strings.Join(args[1:], " "),
				RelatedEntityType: entityType,
				RelatedEntityID:   entityID,
			})
			if err != nil {
				return fmt.Errorf("failed to send message: %w", err)
			}
			fmt.Printf("✓ Message sent: %s\n", idStyle.Sprint(msg.ID))
			return nil
		},
	}

	cmd.Flags().StringVar(&entityType, "entity-type", "", "Related entity type (workout_plan, nutrition_plan, ...)")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "Related entity id")

	return cmd
}

// ReadCmd returns the read command
func ReadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read <partner-id>",
		Short: "Mark all messages from a partner as read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := NewContext()
			defer cancel()

			c, _, err := authorizedClient()
			if err != nil {
				return err
			}
			updated, err := c.MarkRead(ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to mark as read: %w", err)
			}
			fmt.Printf("✓ Marked %d message(s) as read\n", updated)
			return nil
		},
	}
}

// WatchCmd returns the watch command
func WatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch [partner-id]",
		Short: "Follow the inbox or a conversation live",
		Long: `Without arguments, reprint the inbox whenever a message arrives.
With a partner id, print the conversation and then every new message.

Press Ctrl+C to stop.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := NewContext()
			defer cancel()

			c, session, err := authorizedClient()
			if err != nil {
				return err
			}

			partnerID := ""
			name := ""
			if len(args) == 1 {
				partnerID = args[0]
				name = partnerName(ctx, c, partnerID)
			}

			return c.Watch(ctx, partnerID, func(event client.Event) {
				switch event.Event {
				case "conversations":
					fmt.Println(idStyle.Sprint("── inbox ──"))
					printConversations(os.Stdout, event.Conversations)
				case "thread":
					printThread(os.Stdout, event.Messages, session.UserID, name)
				case "message":
					if event.Message != nil {
						printMessage(os.Stdout, *event.Message, session.UserID, name)
					}
				case "error":
					fmt.Fprintln(os.Stderr, errorStyle.Sprintf("%s: %s", event.Kind, event.Error))
				}
			})
		},
	}
}

// partnerName - отображаемое имя собеседника, id если профиль недоступен
func partnerName(ctx context.Context, c *client.Client, partnerID string) string {
	profile, err := c.Profile(ctx, partnerID)
	if err != nil || profile.DisplayName == "" {
		return partnerID
	}
	return profile.DisplayName
}
