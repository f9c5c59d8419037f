package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/iudanet/gophcollab/internal/client/channel"
	"github.com/iudanet/gophcollab/internal/client/collab"
	"github.com/iudanet/gophcollab/internal/client/events"
	"github.com/iudanet/gophcollab/internal/client/iocli"
	"github.com/iudanet/gophcollab/internal/client/replica"
	"github.com/iudanet/gophcollab/internal/client/voting"
	"github.com/iudanet/gophcollab/internal/models"
	"github.com/iudanet/gophcollab/internal/pathstore"
	"github.com/iudanet/gophcollab/pkg/api"
)

type joinOptions struct {
	nickname string
	taskID   string
	autoVote string
	score    float64
	resume   bool
}

func (c *Cli) joinCommand() *cobra.Command {
	var opts joinOptions
	cmd := &cobra.Command{
		Use:   "join",
		Short: "Submit the proficiency score and work on the task with a group",
		Long: `Loads the task state, submits the proficiency score and waits for a group.
After assignment the task fields are shared with the group and the speaker can
open a vote on the group answer. Type "help" in the session for commands.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runJoin(cmd.Context(), opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.nickname, "nickname", "", "Nickname shown to the group")
	f.StringVar(&opts.taskID, "task-id", "", "Task identifier (saved in the profile)")
	f.Float64Var(&opts.score, "score", -1, "Proficiency score 0..100, overrides the task state")
	f.BoolVar(&opts.resume, "resume", false, "Restore the task state from the local interaction log")
	f.StringVar(&opts.autoVote, "auto-vote", "", `Answer vote prompts automatically: "accept" or "reject"`)
	return cmd
}

func (c *Cli) runJoin(ctx context.Context, opts joinOptions) error {
	autoVote, err := parseAutoVote(opts.autoVote)
	if err != nil {
		return err
	}

	db, err := c.openStorage(ctx)
	if err != nil {
		return err
	}
	defer c.closeStorage(db)

	profile, err := c.profile(ctx, db, opts.nickname, opts.taskID)
	if err != nil {
		return err
	}
	if profile.TaskID == "" {
		return errors.New("task id is required, pass --task-id")
	}

	store := pathstore.New(c.logger, pathstore.WithLog(db))
	if err := c.loadState(ctx, db, store, opts); err != nil {
		return err
	}

	// Группа последнего назначения сохраняется для команды profile
	unwatchGroup := store.Subscribe(func(change pathstore.Change) {
		if change.Path.String() != collab.GroupPath {
			return
		}
		groupID := ""
		if group, ok := change.New.(map[string]any); ok {
			groupID, _ = group["groupId"].(string)
		}
		if err := db.SaveGroupID(context.Background(), groupID); err != nil {
			c.logger.Warn("failed to save group id", slog.Any("error", err))
		}
	})
	defer unwatchGroup()

	ch, err := channel.NewClient(c.cfg.ServerURL, c.logger, store)
	if err != nil {
		return err
	}
	defer ch.Disconnect()

	doc := replica.NewDocument(c.logger, store, c.api,
		replica.RemoteFactory(c.api, c.logger, uuid.NewString(), c.cfg.PollInterval),
		profile.UserID)
	defer doc.Leave()

	service := collab.NewService(c.logger, collab.Config{
		UserID:        profile.UserID,
		Nickname:      profile.Nickname,
		TaskID:        profile.TaskID,
		FallbackDelay: c.cfg.FallbackDelay,
	}, store, c.api, events.NewListener(c.cfg.ServerURL, c.logger), ch, doc)
	defer service.Close()

	console := NewConsole(c.io, autoVote)
	consensus := voting.New(c.logger, store, console,
		voting.WithAnnouncer(ch),
		voting.OnApproved(service.OnApproved),
		voting.OnResolved(func(_ context.Context, round int, r models.Resolution) {
			c.io.Printf("Round %d resolved: %s\n", round, r)
		}),
	)
	defer consensus.Stop()
	service.SetVoting(consensus)

	ch.On(api.MessageJoin, func(msg api.SocketMessage) {
		if msg.UserID != profile.UserID {
			c.io.Printf("Participant %s joined the group channel\n", msg.UserID)
		}
	})
	ch.On(api.MessageShowSolution, func(msg api.SocketMessage) {
		c.io.Printf("Moved to solution %s\n", msg.TargetNode)
	})

	if err := service.JoinCollaboration(ctx); err != nil {
		return err
	}

	c.io.Println("=== Collaboration ===")
	c.io.Printf("User ID: %s\n", profile.UserID)
	c.io.Println("Waiting for a group. Type \"help\" for commands.")

	s := &session{
		io:        c.io,
		store:     store,
		service:   service,
		consensus: consensus,
		comments:  c.api,
		userID:    profile.UserID,
	}
	return console.Run(ctx, s.handle)
}

// loadState заполняет состояние задачи из файла и журнала
func (c *Cli) loadState(ctx context.Context, db interactionStore, store *pathstore.Store, opts joinOptions) error {
	if c.cfg.TaskFile != "" {
		tree, err := LoadTaskFile(c.cfg.TaskFile)
		if err != nil {
			return err
		}
		if err := store.Load(tree); err != nil {
			return err
		}
	}

	if opts.resume {
		history, err := db.Events(ctx)
		if err != nil {
			return err
		}
		if err := store.Replay(history); err != nil {
			return fmt.Errorf("failed to replay interaction log: %w", err)
		}
		c.logger.Info("task state restored", slog.Int("events", len(history)))
	} else if err := db.ClearInteractions(ctx); err != nil {
		return err
	}

	if opts.score >= 0 {
		if _, err := store.Set(collab.ProficiencyPath, opts.score); err != nil {
			return err
		}
	}
	return nil
}

type interactionStore interface {
	pathstore.InteractionLog
	ClearInteractions(ctx context.Context) error
}

func parseAutoVote(value string) (*bool, error) {
	switch strings.ToLower(value) {
	case "":
		return nil, nil
	case "accept", "yes", "y":
		v := true
		return &v, nil
	case "reject", "no", "n":
		v := false
		return &v, nil
	default:
		return nil, fmt.Errorf("invalid --auto-vote value %q", value)
	}
}

type commentAPI interface {
	AddComment(ctx context.Context, req api.CommentRequest) (*models.Comment, error)
}

// session команды участника после join
type session struct {
	io        iocli.IO
	store     *pathstore.Store
	service   *collab.Service
	consensus *voting.Consensus
	comments  commentAPI
	userID    string
}

const sessionHelp = `Commands:
  show [path]              Print the task state or a value (default "$")
  set <path> <value>       Change a task field, value is JSON or plain text
  fields                   List fields shared with the group
  group                    Show the group and roles
  propose                  Open a vote on the group answer (speaker only)
  vote <accept|reject>     Vote in the open round
  save                     Save the session data on the server
  comment <field> <text>   Comment a field of the saved session
  leave                    Leave the group and quit
  quit                     Quit without leaving the group`

func (s *session) handle(ctx context.Context, line string) error {
	command, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
	rest = strings.TrimSpace(rest)

	switch command {
	case "help", "?":
		s.io.Println(sessionHelp)
	case "show":
		return s.show(rest)
	case "set":
		path, raw, ok := strings.Cut(rest, " ")
		if !ok {
			return errors.New("usage: set <path> <value>")
		}
		if err := s.service.SetField(path, parseValue(strings.TrimSpace(raw))); err != nil {
			return err
		}
	case "fields":
		fields := replica.DefaultFilter().Fields(s.store.Snapshot())
		return s.printJSON(fields)
	case "group":
		return s.group()
	case "propose":
		if err := s.consensus.StartProposal(ctx); err != nil {
			return err
		}
		s.io.Printf("Round %d opened\n", s.consensus.Round())
	case "vote":
		accept, valid := parseYes(rest)
		if !valid {
			return errors.New("usage: vote <accept|reject>")
		}
		if !s.consensus.IsVotingInProgress() {
			s.io.Println("No open proposal")
			return nil
		}
		vote := models.VoteRejected
		if accept {
			vote = models.VoteAccepted
		}
		return s.consensus.Vote(ctx, s.consensus.Round(), vote)
	case "save":
		id, err := s.service.SaveSessionData(ctx)
		if err != nil {
			return err
		}
		s.io.Printf("✓ Session saved: %s\n", id)
	case "comment":
		return s.comment(ctx, rest)
	case "leave":
		if err := s.service.ClearGroup(ctx); err != nil {
			return err
		}
		s.io.Println("✓ Left the group")
		return ErrQuit
	case "quit", "exit":
		return ErrQuit
	default:
		return fmt.Errorf("unknown command %q, type \"help\"", command)
	}
	return nil
}

func (s *session) show(path string) error {
	if path == "" {
		path = "$"
	}
	var value any
	if path == "$" {
		value = s.store.Snapshot()
	} else {
		v, err := s.store.Get(path)
		if err != nil {
			return err
		}
		value = v
	}
	return s.printJSON(value)
}

func (s *session) group() error {
	group, ok := s.service.Group()
	if !ok {
		s.io.Println("No group assigned yet")
		return nil
	}
	roles, err := s.service.RoleInfos()
	if err != nil {
		return err
	}
	names := make(map[int]string, len(roles))
	for _, r := range roles {
		names[r.RoleID] = r.Name
	}

	s.io.Printf("Group %s (%d members)\n", group.GroupID, group.Size)
	for _, m := range group.Members {
		marker := " "
		if m.UserID == s.userID {
			marker = "*"
		}
		s.io.Printf("%s role %d %-12s %s\n", marker, m.RoleID, valueOr(names[m.RoleID], "-"), m.UserID)
	}
	s.io.Printf("Voting: %s, round %d\n", s.consensus.State(), s.consensus.Round())
	return nil
}

func (s *session) comment(ctx context.Context, args string) error {
	field, text, ok := strings.Cut(args, " ")
	if !ok || strings.TrimSpace(text) == "" {
		return errors.New("usage: comment <field> <text>")
	}
	sessionID := s.store.GetString(collab.SessionDataPath)
	if sessionID == "" {
		return errors.New("session is not saved yet, run \"save\" first")
	}

	comment, err := s.comments.AddComment(ctx, api.CommentRequest{
		TimeStamp: time.Now().UTC(),
		SessionID: sessionID,
		FieldID:   field,
		UserID:    s.userID,
		Text:      strings.TrimSpace(text),
	})
	if err != nil {
		return err
	}
	s.io.Printf("✓ Comment added: %s\n", comment.ID)
	return nil
}

func (s *session) printJSON(value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	s.io.Println(string(data))
	return nil
}

// parseValue JSON значение или строка как есть
func parseValue(raw string) any {
	var value any
	if err := json.Unmarshal([]byte(raw), &value); err == nil {
		return value
	}
	return raw
}
