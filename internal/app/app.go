// Package app is the terminal front end: a REPL over the auth manager, the
// conversation store and the stream engine.
package app

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"StreamChat/internal/api"
	"StreamChat/internal/auth"
	"StreamChat/internal/chat"
	"StreamChat/internal/config"
	"StreamChat/internal/telemetry"
)

// App represents the main application
type App struct {
	config  config.Config
	db      *sql.DB
	logger  *slog.Logger
	tracer  trace.Tracer
	meter   metric.Meter
	cleanup func()

	client *api.Client
	auth   *auth.Manager
	store  *chat.Store
	engine *chat.Engine
}

// New wires the application together.
func New(cfg config.Config) (*App, error) {
	logger, err := telemetry.InitLogger(cfg.Debug)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	ctx := context.Background()
	tracer, meter, cleanup, err := telemetry.InitTelemetry(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	db, err := telemetry.InitDB(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if cfg.Debug {
		logger.Info("Debug mode enabled")
	}

	a := &App{
		config:  cfg,
		db:      db,
		logger:  logger,
		tracer:  tracer,
		meter:   meter,
		cleanup: cleanup,
	}

	credStore := auth.NewSQLiteCredentialStore(db)
	a.auth = auth.NewManager(credStore, logger, cfg.SessionTTL, cfg.WarningWindow,
		a.notifyExpiringSoon, a.notifyExpired)
	a.client = api.NewClient(cfg.ServerURL, a.auth.AuthHeader, logger, tracer, meter)
	a.auth.SetBackend(a.client)

	a.store = chat.NewStore(a.client, logger)
	a.engine = chat.NewEngine(a.client, a.store, logger, tracer, meter)
	a.engine.OnDelta = func(fragment string) {
		fmt.Print(fragment)
	}

	return a, nil
}

func (a *App) notifyExpiringSoon() {
	fmt.Println("\n[!] Your session is expiring soon. Any input keeps it alive.")
}

func (a *App) notifyExpired() {
	a.store.Clear()
	fmt.Println("\n[!] Your session has expired. Please /login again.")
}

// Run starts the REPL. It restores a persisted session before showing the
// prompt so protected state is never rendered while auth is unresolved.
func (a *App) Run() error {
	defer a.db.Close()
	defer a.cleanup()

	ctx := context.Background()

	fmt.Println("=== StreamChat ===")
	if err := a.auth.Restore(ctx); err != nil {
		a.logger.Error("failed to restore session", "error", err)
	}
	if user := a.auth.User(); user != nil {
		fmt.Printf("Welcome back, %s\n", user.Username)
		a.store.Refresh(ctx)
		a.selectMostRecent(ctx)
	} else {
		fmt.Println("Not logged in. Use /login <email> <password> or /register <username> <email> <password>")
	}
	fmt.Println("Type /help for commands, /quit to exit")
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("You: ")
		if !scanner.Scan() {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		// Any accepted input line counts as user activity.
		a.auth.Activity()

		if strings.HasPrefix(input, "/") {
			shouldQuit, err := a.handleCommand(ctx, input)
			if err != nil {
				fmt.Printf("Error: %v\n", err)
				a.logger.Error("command error", "error", err)
			}
			if shouldQuit {
				break
			}
			continue
		}

		if !a.auth.Authenticated() {
			fmt.Println("Please /login first.")
			continue
		}

		fmt.Print("Assistant: ")
		err := a.engine.Send(ctx, input)
		fmt.Println()
		if err != nil {
			a.handleSendError(err)
			continue
		}
		fmt.Println()
	}

	fmt.Println("Goodbye!")
	return nil
}

func (a *App) handleSendError(err error) {
	var authErr *api.AuthError
	if errors.As(err, &authErr) {
		a.auth.Logout()
		a.store.Clear()
		fmt.Println("Your session is no longer valid. Please /login again.")
		return
	}
	fmt.Printf("Error: %v\n", err)
	a.logger.Error("failed to send message", "error", err)
}

// handleCommand handles slash commands
func (a *App) handleCommand(ctx context.Context, cmd string) (bool, error) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return false, nil
	}

	switch parts[0] {
	case "/quit", "/exit":
		return true, nil

	case "/login":
		if len(parts) != 3 {
			return false, fmt.Errorf("usage: /login <email> <password>")
		}
		user, err := a.auth.Login(ctx, parts[1], parts[2])
		if err != nil {
			return false, err
		}
		fmt.Printf("Logged in as %s\n", user.Username)
		a.store.Refresh(ctx)
		a.selectMostRecent(ctx)
		return false, nil

	case "/register":
		if len(parts) != 4 {
			return false, fmt.Errorf("usage: /register <username> <email> <password>")
		}
		user, err := a.auth.Register(ctx, parts[1], parts[2], parts[3])
		if err != nil {
			return false, err
		}
		fmt.Printf("Registered and logged in as %s\n", user.Username)
		return false, nil

	case "/logout":
		a.auth.Logout()
		a.store.Clear()
		fmt.Println("Logged out.")
		return false, nil

	case "/whoami":
		user := a.auth.User()
		if user == nil {
			fmt.Println("Not logged in.")
		} else {
			fmt.Printf("%s <%s>\n", user.Username, user.Email)
		}
		return false, nil

	case "/sessions":
		if err := a.requireAuth(); err != nil {
			return false, err
		}
		a.store.Refresh(ctx)
		a.printSessions()
		return false, nil

	case "/select":
		if err := a.requireAuth(); err != nil {
			return false, err
		}
		if len(parts) != 2 {
			return false, fmt.Errorf("usage: /select <number>")
		}
		sess, err := a.sessionByIndex(parts[1])
		if err != nil {
			return false, err
		}
		if err := a.store.Select(ctx, sess.ID); err != nil {
			return false, fmt.Errorf("failed to load session: %w", err)
		}
		fmt.Printf("Switched to: %s\n", sess.Title)
		a.printHistory()
		return false, nil

	case "/new":
		if err := a.requireAuth(); err != nil {
			return false, err
		}
		title := "New Conversation"
		if len(parts) > 1 {
			title = strings.Join(parts[1:], " ")
		}
		sess, err := a.store.Create(ctx, title)
		if err != nil {
			return false, fmt.Errorf("failed to create session: %w", err)
		}
		fmt.Printf("Started new session: %s\n", sess.Title)
		return false, nil

	case "/rename":
		if err := a.requireAuth(); err != nil {
			return false, err
		}
		if len(parts) < 3 {
			return false, fmt.Errorf("usage: /rename <number> <title>")
		}
		sess, err := a.sessionByIndex(parts[1])
		if err != nil {
			return false, err
		}
		title := strings.Join(parts[2:], " ")
		if err := a.store.Rename(ctx, sess.ID, title); err != nil {
			return false, fmt.Errorf("failed to rename session: %w", err)
		}
		fmt.Printf("Renamed to: %s\n", title)
		return false, nil

	case "/delete":
		if err := a.requireAuth(); err != nil {
			return false, err
		}
		if len(parts) != 2 {
			return false, fmt.Errorf("usage: /delete <number>")
		}
		sess, err := a.sessionByIndex(parts[1])
		if err != nil {
			return false, err
		}
		if err := a.store.Delete(ctx, sess.ID); err != nil {
			return false, fmt.Errorf("failed to delete session: %w", err)
		}
		fmt.Printf("Deleted: %s\n", sess.Title)
		if active := a.store.Active(); active != nil {
			if err := a.store.Select(ctx, active.ID); err != nil {
				a.logger.Warn("failed to load next session", "error", err)
			} else {
				fmt.Printf("Now in: %s\n", active.Title)
			}
		}
		return false, nil

	case "/help":
		fmt.Println("Available commands:")
		fmt.Println("  /login <email> <password>              - Log in")
		fmt.Println("  /register <username> <email> <password> - Create an account")
		fmt.Println("  /logout                                - Log out")
		fmt.Println("  /whoami                                - Show the current user")
		fmt.Println("  /sessions                              - List conversations")
		fmt.Println("  /select <number>                       - Switch conversation")
		fmt.Println("  /new [title]                           - Start a new conversation")
		fmt.Println("  /rename <number> <title>               - Rename a conversation")
		fmt.Println("  /delete <number>                       - Delete a conversation")
		fmt.Println("  /quit, /exit                           - Exit")
		fmt.Println("  /help                                  - Show this help message")
		return false, nil

	default:
		return false, fmt.Errorf("unknown command: %s", parts[0])
	}
}

func (a *App) requireAuth() error {
	if !a.auth.Authenticated() {
		return fmt.Errorf("please /login first")
	}
	return nil
}

func (a *App) sessionByIndex(arg string) (*api.Session, error) {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return nil, fmt.Errorf("not a session number: %s", arg)
	}
	sessions := a.store.Sessions()
	if n < 1 || n > len(sessions) {
		return nil, fmt.Errorf("no such session: %d", n)
	}
	sess := sessions[n-1]
	return &sess, nil
}

func (a *App) selectMostRecent(ctx context.Context) {
	sessions := a.store.Sessions()
	if len(sessions) == 0 {
		return
	}
	if err := a.store.Select(ctx, sessions[0].ID); err != nil {
		a.logger.Warn("failed to load most recent session", "error", err)
		return
	}
	fmt.Printf("Resumed: %s\n", sessions[0].Title)
}

func (a *App) printSessions() {
	sessions := a.store.Sessions()
	if len(sessions) == 0 {
		fmt.Println("No conversations yet. Just type a message to start one.")
		return
	}
	active := a.store.Active()
	fmt.Println("\nConversations:")
	for i, sess := range sessions {
		marker := ""
		if active != nil && sess.ID == active.ID {
			marker = " (current)"
		}
		fmt.Printf("%d. %s%s\n", i+1, sess.Title, marker)
	}
	fmt.Println()
}

func (a *App) printHistory() {
	for _, msg := range a.store.Messages() {
		switch msg.Role {
		case api.RoleUser:
			fmt.Printf("You: %s\n", msg.Content)
		case api.RoleAssistant:
			fmt.Printf("Assistant: %s\n", msg.Content)
		}
	}
}
