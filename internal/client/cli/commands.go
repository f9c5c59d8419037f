package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/iudanet/gophcollab/internal/client/storage"
	"github.com/iudanet/gophcollab/internal/models"
	"github.com/iudanet/gophcollab/pkg/api"
)

// storedProfile читает профиль без создания нового
func (c *Cli) storedProfile(ctx context.Context) (models.Profile, error) {
	db, err := c.openStorage(ctx)
	if err != nil {
		return models.Profile{}, err
	}
	defer c.closeStorage(db)

	profile, err := db.GetProfile(ctx)
	if errors.Is(err, storage.ErrProfileNotFound) {
		return models.Profile{}, errors.New("no participant profile, run 'gophcollab join' first")
	}
	return profile, err
}

func (c *Cli) statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show group formation status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			status, err := c.api.GroupingStatus(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to get status: %w", err)
			}
			c.printStatus(status)
			return nil
		},
	}
}

func (c *Cli) printStatus(status *api.StatusResponse) {
	c.io.Println("=== Grouping ===")
	c.io.Printf("Planned total: %d\n", status.Total)
	c.io.Printf("Planned:       %d groups of 4, %d groups of 3\n", status.Distribution.Groups4, status.Distribution.Groups3)
	c.io.Printf("Formed:        %d groups of 4, %d groups of 3\n", status.Formed.Groups4, status.Formed.Groups3)

	c.io.Printf("\nWaiting (%d):\n", len(status.Pending))
	for _, p := range status.Pending {
		c.io.Printf("  %-36s %-16s %6.1f\n", p.UserID, valueOr(p.Nickname, "-"), p.Score)
	}

	c.io.Printf("\nGroups (%d):\n", len(status.Groups))
	for _, g := range status.Groups {
		c.io.Printf("  %s  size %d\n", g.GroupID, g.Size)
		for _, m := range g.Members {
			c.io.Printf("    role %d  %-36s %s\n", m.RoleID, m.UserID, m.Nickname)
		}
	}
}

func (c *Cli) leaveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "leave",
		Short: "Leave the waiting pool or the current group",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			profile, err := c.storedProfile(ctx)
			if err != nil {
				return err
			}
			if err := c.api.LeaveGrouping(ctx, profile.UserID); err != nil {
				return fmt.Errorf("failed to leave: %w", err)
			}

			db, err := c.openStorage(ctx)
			if err != nil {
				return err
			}
			defer c.closeStorage(db)
			if err := db.SaveGroupID(ctx, ""); err != nil {
				return err
			}

			c.io.Println("✓ Left grouping")
			return nil
		},
	}
}

func (c *Cli) sessionsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions [sessionId]",
		Short: "List saved sessions of the participant or show one session",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if len(args) == 1 {
				session, err := c.api.GetSessionData(ctx, args[0])
				if err != nil {
					return fmt.Errorf("failed to get session: %w", err)
				}
				c.printSession(*session, true)
				return nil
			}

			profile, err := c.storedProfile(ctx)
			if err != nil {
				return err
			}
			resp, err := c.api.GetUserSessions(ctx, profile.UserID)
			if err != nil {
				return fmt.Errorf("failed to list sessions: %w", err)
			}
			if len(resp.Sessions) == 0 {
				c.io.Println("No saved sessions")
				return nil
			}
			for _, s := range resp.Sessions {
				c.printSession(s, false)
			}
			return nil
		},
	}
}

func (c *Cli) printSession(s models.SessionData, withData bool) {
	members := make([]string, 0, len(s.Members))
	for _, m := range s.Members {
		members = append(members, fmt.Sprintf("%d:%s", m.RoleID, m.UserID))
	}
	c.io.Printf("%s  task %s  %s  [%s]\n", s.SessionID, s.TaskID,
		s.CreatedAt.Local().Format(time.DateTime), strings.Join(members, " "))
	if withData {
		c.io.Println(string(s.Data))
	}
}

func (c *Cli) commentsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "comments <sessionId>",
		Short: "List comments of a saved session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := c.api.GetComments(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to get comments: %w", err)
			}
			if len(resp.Comments) == 0 {
				c.io.Println("No comments")
				return nil
			}
			for _, cm := range resp.Comments {
				c.io.Printf("[%s] %s on %s: %s\n",
					cm.CreatedAt.Local().Format(time.DateTime), valueOr(cm.Nickname, cm.UserID), cm.FieldID, cm.Text)
			}
			return nil
		},
	}

	add := &cobra.Command{
		Use:   "add <sessionId> <fieldId> <text...>",
		Short: "Comment a field of a saved session",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			profile, err := c.storedProfile(ctx)
			if err != nil {
				return err
			}
			comment, err := c.api.AddComment(ctx, api.CommentRequest{
				TimeStamp: time.Now().UTC(),
				SessionID: args[0],
				FieldID:   args[1],
				UserID:    profile.UserID,
				Text:      strings.Join(args[2:], " "),
			})
			if err != nil {
				return fmt.Errorf("failed to add comment: %w", err)
			}
			c.io.Printf("✓ Comment added: %s\n", comment.ID)
			return nil
		},
	}
	cmd.AddCommand(add)
	return cmd
}

func (c *Cli) historyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "Print the local interaction log",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			db, err := c.openStorage(ctx)
			if err != nil {
				return err
			}
			defer c.closeStorage(db)

			history, err := db.Events(ctx)
			if err != nil {
				return err
			}
			if len(history) == 0 {
				c.io.Println("Interaction log is empty")
				return nil
			}
			for _, ev := range history {
				origin := "local"
				if ev.Remote {
					origin = "group"
				}
				c.io.Printf("%5d %s %-5s %s = %s\n", ev.Seq, ev.At.Local().Format(time.TimeOnly), origin, ev.Path, ev.Value)
			}
			return nil
		},
	}
}

// adminCommand команды оператора формирования групп
func (c *Cli) adminCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Operator commands for group formation",
	}

	total := &cobra.Command{
		Use:   "total <n>",
		Short: "Set the planned number of participants",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil || n < 0 {
				return fmt.Errorf("invalid total %q", args[0])
			}
			resp, err := c.api.SetTotal(cmd.Context(), n)
			if err != nil {
				return fmt.Errorf("failed to set total: %w", err)
			}
			c.io.Printf("✓ Planned %d participants: %d groups of 4, %d groups of 3\n",
				resp.Total, resp.Distribution.Groups4, resp.Distribution.Groups3)
			return nil
		},
	}

	form := &cobra.Command{
		Use:   "form",
		Short: "Form groups from the waiting pool now",
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, err := c.api.FormGroups(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to form groups: %w", err)
			}
			c.io.Printf("✓ Formed %d groups\n", len(resp.Groups))
			for _, g := range resp.Groups {
				c.io.Printf("  %s  %s\n", g.GroupID, strings.Join(g.MemberIDs(), ", "))
			}
			return nil
		},
	}

	var groupID string
	var userIDs []string
	var roleIDs []int
	manual := &cobra.Command{
		Use:   "manual",
		Short: "Assign a group manually",
		RunE: func(cmd *cobra.Command, _ []string) error {
			group, err := c.api.ManualGroup(cmd.Context(), api.ManualGroupRequest{
				GroupID: groupID,
				UserIDs: userIDs,
				RoleIDs: roleIDs,
			})
			if err != nil {
				return fmt.Errorf("failed to assign group: %w", err)
			}
			c.io.Printf("✓ Group %s: %s\n", group.GroupID, strings.Join(group.MemberIDs(), ", "))
			return nil
		},
	}
	manual.Flags().StringVar(&groupID, "group", "", "Group identifier")
	manual.Flags().StringSliceVar(&userIDs, "users", nil, "Member user ids in role order")
	manual.Flags().IntSliceVar(&roleIDs, "roles", nil, "Role ids matching --users (default 0..n-1)")
	_ = manual.MarkFlagRequired("group")
	_ = manual.MarkFlagRequired("users")

	cmd.AddCommand(total, form, manual)
	return cmd
}
