// Package cli команды консольного клиента участника и оператора.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/iudanet/gophcollab/internal/client/api"
	"github.com/iudanet/gophcollab/internal/client/iocli"
	"github.com/iudanet/gophcollab/internal/client/storage"
	"github.com/iudanet/gophcollab/internal/client/storage/boltdb"
	"github.com/iudanet/gophcollab/internal/config"
	"github.com/iudanet/gophcollab/internal/models"
)

// BuildInfo сведения о сборке для команды version
type BuildInfo struct {
	Version   string
	BuildDate string
	GitCommit string
}

// Flags глобальные флаги; непустые значения перекрывают конфигурацию
type Flags struct {
	Config   string
	Server   string
	DB       string
	TaskFile string
	LogLevel string
}

// Cli общее состояние команд
type Cli struct {
	io      iocli.IO
	logger  *slog.Logger
	api     *api.Client
	build   BuildInfo
	flags   Flags
	cfg     config.Client
	logSink io.Writer
}

// New создает клиента команд. logSink получает журнал работы, обычно os.Stderr.
func New(console iocli.IO, logSink io.Writer, build BuildInfo) *Cli {
	return &Cli{io: console, logSink: logSink, build: build}
}

// Execute разбирает аргументы и выполняет команду
func (c *Cli) Execute(ctx context.Context, args []string) error {
	root := c.RootCommand()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// RootCommand дерево команд клиента
func (c *Cli) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "gophcollab",
		Short:         "GophCollab participant client",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.setup()
		},
	}
	root.SetOut(c.io)
	root.SetErr(c.io)

	pf := root.PersistentFlags()
	pf.StringVar(&c.flags.Config, "config", "", "Path to YAML config file")
	pf.StringVar(&c.flags.Server, "server", "", "Server URL (default: http://localhost:8080)")
	pf.StringVar(&c.flags.DB, "db", "", "Path to local database (default: gophcollab-client.db)")
	pf.StringVar(&c.flags.TaskFile, "task", "", "Path to task state file (YAML or JSON)")
	pf.StringVar(&c.flags.LogLevel, "log-level", "", "Log level: debug, info, warn, error")

	root.AddCommand(
		c.versionCommand(),
		c.profileCommand(),
		c.joinCommand(),
		c.statusCommand(),
		c.leaveCommand(),
		c.sessionsCommand(),
		c.commentsCommand(),
		c.historyCommand(),
		c.adminCommand(),
	)
	return root
}

func (c *Cli) setup() error {
	cfg, err := config.LoadClient(c.flags.Config)
	if err != nil {
		return err
	}
	if c.flags.Server != "" {
		cfg.ServerURL = c.flags.Server
	}
	if c.flags.DB != "" {
		cfg.DBPath = c.flags.DB
	}
	if c.flags.TaskFile != "" {
		cfg.TaskFile = c.flags.TaskFile
	}
	if c.flags.LogLevel != "" {
		cfg.Log.Level = c.flags.LogLevel
	}

	c.cfg = cfg
	c.logger = config.NewLogger(cfg.Log, c.logSink)
	c.api = api.NewClient(cfg.ServerURL)
	return nil
}

func (c *Cli) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return nil
		},
		Run: func(*cobra.Command, []string) {
			c.io.Println("GophCollab Client")
			c.io.Printf("Version:    %s\n", c.build.Version)
			c.io.Printf("Build Date: %s\n", c.build.BuildDate)
			c.io.Printf("Git Commit: %s\n", c.build.GitCommit)
		},
	}
}

// openStorage открывает локальную базу клиента
func (c *Cli) openStorage(ctx context.Context) (*boltdb.Storage, error) {
	store, err := boltdb.New(ctx, c.cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return store, nil
}

// profile возвращает сохраненный профиль или создает новый с переданными значениями.
// Непустые nickname и taskID обновляют профиль.
func (c *Cli) profile(ctx context.Context, profiles storage.ProfileStorage, nickname, taskID string) (models.Profile, error) {
	profile, err := profiles.GetProfile(ctx)
	switch {
	case errors.Is(err, storage.ErrProfileNotFound):
		profile = models.Profile{CreatedAt: time.Now().UTC(), UserID: uuid.NewString()}
	case err != nil:
		return models.Profile{}, fmt.Errorf("failed to load profile: %w", err)
	}

	changed := err != nil ||
		(nickname != "" && profile.Nickname != nickname) ||
		(taskID != "" && profile.TaskID != taskID)
	if nickname != "" {
		profile.Nickname = nickname
	}
	if taskID != "" {
		profile.TaskID = taskID
	}
	if changed {
		if err := profiles.SaveProfile(ctx, profile); err != nil {
			return models.Profile{}, fmt.Errorf("failed to save profile: %w", err)
		}
	}
	return profile, nil
}

func (c *Cli) profileCommand() *cobra.Command {
	var nickname, taskID string
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show or update the participant profile",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, err := c.openStorage(ctx)
			if err != nil {
				return err
			}
			defer c.closeStorage(store)

			profile, err := c.profile(ctx, store, nickname, taskID)
			if err != nil {
				return err
			}
			groupID, err := store.GetGroupID(ctx)
			if err != nil {
				return err
			}

			c.io.Println("=== Participant ===")
			c.io.Printf("User ID:  %s\n", profile.UserID)
			c.io.Printf("Nickname: %s\n", valueOr(profile.Nickname, "-"))
			c.io.Printf("Task:     %s\n", valueOr(profile.TaskID, "-"))
			c.io.Printf("Group:    %s\n", valueOr(groupID, "-"))
			return nil
		},
	}
	cmd.Flags().StringVar(&nickname, "nickname", "", "Nickname shown to the group")
	cmd.Flags().StringVar(&taskID, "task-id", "", "Task identifier")
	return cmd
}

func (c *Cli) closeStorage(store *boltdb.Storage) {
	if err := store.Close(); err != nil {
		c.logger.Error("failed to close database", slog.Any("error", err))
	}
}

func valueOr(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

var (
	_ storage.ProfileStorage = (*boltdb.Storage)(nil)
	_ interactionStore       = (*boltdb.Storage)(nil)
)
