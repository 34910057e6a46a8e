package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/CrowderSoup/boardsync/apiclient"
	"github.com/CrowderSoup/boardsync/board"
	"github.com/spf13/cobra"
)

const flushTimeout = 30 * time.Second

type session struct {
	cfg    *Config
	client *apiclient.Client
}

func newSession(cmd *cobra.Command) (*session, error) {
	cfg, err := LoadConfig(envFile, cmd)
	if err != nil {
		return nil, err
	}
	client := apiclient.New(cfg.APIURL, cfg.APIToken,
		apiclient.WithTimeout(cfg.HTTPTimeout),
		apiclient.WithLogger(newLogger()))
	return &session{cfg: cfg, client: client}, nil
}

// engine loads the board and returns an engine holding it.
func (s *session) engine(ctx context.Context, boardID string, opts ...board.Option) (*board.Engine, error) {
	notifier := board.NotifierFunc(func(n board.Notice) {
		fmt.Fprintf(os.Stderr, "correction: %s\n", n.Message)
	})
	opts = append([]board.Option{
		board.WithLogger(newLogger()),
		board.WithRollback(s.cfg.Rollback),
		board.WithNotifier(notifier),
	}, opts...)

	e := board.NewEngine(s.client, boardID, opts...)
	if _, err := e.RefreshBoard(ctx); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

// settle waits for queued confirmations and prints the resulting board.
func settle(ctx context.Context, e *board.Engine, out io.Writer) error {
	ctx, cancel := context.WithTimeout(ctx, flushTimeout)
	defer cancel()
	if err := e.Flush(ctx); err != nil {
		return fmt.Errorf("waiting for confirmation: %w", err)
	}
	printBoard(out, e.Snapshot())
	return nil
}

func printBoard(w io.Writer, b board.Board) {
	title := b.Name
	if title == "" {
		title = b.ID
	}
	fmt.Fprintf(w, "%s (%s)\n", title, b.ID)
	for _, col := range b.Columns {
		fmt.Fprintf(w, "\n[%d] %s (%s) %d\n", col.Order, col.Name, col.ID, len(col.Tasks))
		for _, t := range col.Tasks {
			line := fmt.Sprintf("  %d. %s  %s  %s", t.Position, t.ID, t.Title, t.Priority)
			if t.Assignee != "" {
				line += "  @" + t.Assignee
			}
			fmt.Fprintln(w, line)
		}
	}
}

var boardsCmd = &cobra.Command{
	Use:   "boards <projectID>",
	Short: "List a project's boards",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession(cmd)
		if err != nil {
			return err
		}
		boards, err := s.client.ListBoards(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		for _, b := range boards {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", b.ID, b.Name)
		}
		return nil
	},
}

var boardCmd = &cobra.Command{
	Use:   "board",
	Short: "Manage boards",
}

var boardCreateCmd = &cobra.Command{
	Use:   "create <projectID> <name>",
	Short: "Create a board with the default columns",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession(cmd)
		if err != nil {
			return err
		}
		b, err := s.client.CreateBoard(cmd.Context(), args[0], strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", b.ID, b.Name)
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show <boardID>",
	Short: "Print a board",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession(cmd)
		if err != nil {
			return err
		}
		e, err := s.engine(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		defer e.Close()
		printBoard(cmd.OutOrStdout(), e.Snapshot())
		return nil
	},
}

var moveCmd = &cobra.Command{
	Use:   "move <boardID> <taskID> <destColumnID> <destIndex>",
	Short: "Move a task optimistically and wait for the server to confirm",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		index, err := strconv.Atoi(args[3])
		if err != nil {
			return fmt.Errorf("invalid index %q: %w", args[3], err)
		}
		s, err := newSession(cmd)
		if err != nil {
			return err
		}
		e, err := s.engine(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		defer e.Close()

		snap := e.Snapshot()
		from, ok := snap.FindTask(args[1])
		if !ok {
			return fmt.Errorf("task %s not on board %s", args[1], args[0])
		}
		if _, err := e.ApplyMove(from, &board.Location{ColumnID: args[2], Index: index}); err != nil {
			return err
		}
		return settle(cmd.Context(), e, cmd.OutOrStdout())
	},
}

var columnCmd = &cobra.Command{
	Use:   "column",
	Short: "Add, rename or delete columns",
}

var columnAddCmd = &cobra.Command{
	Use:   "add <boardID> <name>",
	Short: "Append a column",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, args[0], func(ctx context.Context, e *board.Engine) (board.Board, error) {
			return e.AddColumn(ctx, strings.Join(args[1:], " "))
		})
	},
}

var columnRenameCmd = &cobra.Command{
	Use:   "rename <boardID> <columnID> <name>",
	Short: "Rename a column",
	Args:  cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, args[0], func(ctx context.Context, e *board.Engine) (board.Board, error) {
			return e.RenameColumn(ctx, args[1], strings.Join(args[2:], " "))
		})
	},
}

var columnDeleteCmd = &cobra.Command{
	Use:   "delete <boardID> <columnID>",
	Short: "Delete an empty column",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, args[0], func(ctx context.Context, e *board.Engine) (board.Board, error) {
			return e.DeleteColumn(ctx, args[1])
		})
	},
}

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage tasks",
}

var taskCreateCmd = &cobra.Command{
	Use:   "create <boardID> <columnID> <name>",
	Short: "Create a task at the end of a column",
	Args:  cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		description, _ := cmd.Flags().GetString("description")
		priority, _ := cmd.Flags().GetString("priority")
		assignee, _ := cmd.Flags().GetString("assignee")
		return withEngine(cmd, args[0], func(ctx context.Context, e *board.Engine) (board.Board, error) {
			return e.CreateTask(ctx, board.NewTask{
				ColumnID:    args[1],
				Title:       strings.Join(args[2:], " "),
				Description: description,
				Priority:    board.ParsePriority(priority),
				Assignee:    assignee,
			})
		})
	},
}

func withEngine(cmd *cobra.Command, boardID string, fn func(context.Context, *board.Engine) (board.Board, error)) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	e, err := s.engine(cmd.Context(), boardID)
	if err != nil {
		return err
	}
	defer e.Close()

	b, err := fn(cmd.Context(), e)
	if err != nil {
		return err
	}
	printBoard(cmd.OutOrStdout(), b)
	return nil
}

var watchCmd = &cobra.Command{
	Use:   "watch <boardID>",
	Short: "Print the board every time it changes on the server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession(cmd)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		out := cmd.OutOrStdout()
		e, err := s.engine(ctx, args[0], board.WithRefreshHook(func(b board.Board) {
			printBoard(out, b)
			fmt.Fprintln(out)
		}))
		if err != nil {
			return err
		}
		defer e.Close()

		events, err := s.client.Subscribe(ctx)
		if err != nil {
			return err
		}
		if err := e.Watch(ctx, events); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{boardsCmd, boardCreateCmd, showCmd, moveCmd,
		columnAddCmd, columnRenameCmd, columnDeleteCmd, taskCreateCmd, watchCmd} {
		c.Flags().String("api-url", "", "board API base URL (API_URL)")
		c.Flags().String("token", "", "bearer token (API_TOKEN)")
		c.Flags().Duration("timeout", 0, "per-request timeout (HTTP_TIMEOUT)")
	}
	moveCmd.Flags().Bool("rollback", true, "undo the move locally if the server rejects it (RECONCILE_ROLLBACK)")

	taskCreateCmd.Flags().String("description", "", "task description")
	taskCreateCmd.Flags().String("priority", "medium", "low, medium, high or critical")
	taskCreateCmd.Flags().String("assignee", "", "assignee id")

	boardCmd.AddCommand(boardCreateCmd)
	columnCmd.AddCommand(columnAddCmd, columnRenameCmd, columnDeleteCmd)
	taskCmd.AddCommand(taskCreateCmd)
	rootCmd.AddCommand(boardsCmd, boardCmd, showCmd, moveCmd, columnCmd, taskCmd, watchCmd)
}
