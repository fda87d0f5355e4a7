// Command clawdeck is a headless operator console for an OpenClaw-style
// gateway: it attaches to a chat session over the realtime websocket
// transport, streams assistant output to stdout, and routes slash commands
// from stdin.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/openclaw/clawdeck/pkg/chat"
	"github.com/openclaw/clawdeck/pkg/config"
	"github.com/openclaw/clawdeck/pkg/gateway"
	"github.com/openclaw/clawdeck/pkg/logging"
)

var version = "dev"

func main() {
	var (
		configPath = flag.String("config", "", "path to config file (default: <state-dir>/config.yaml)")
		gatewayURL = flag.String("url", "", "gateway websocket URL (overrides config)")
		sessionKey = flag.String("session", "agent:main:main", "session key to attach to")
		logLevel   = flag.String("log-level", "", "minimum log level (debug|info|warn|error)")
	)
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(2)
	}
	if *gatewayURL != "" {
		cfg.Gateway.URL = *gatewayURL
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	if err := run(cfg, *sessionKey); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	return config.Load(filepath.Join(config.StateDir(), "config.yaml"))
}

func run(cfg *config.Config, sessionKey string) error {
	logger, err := logging.NewLogger(cfg.Logging.Dir, "clawdeck")
	if err != nil {
		return err
	}
	defer logger.Close()
	logger.SetMinLevel(logging.Level(cfg.Logging.Level))
	logger.SetSessionKey(sessionKey)

	auth, err := buildAuth(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	console := newConsole(sessionKey, cfg, logger)

	queue := gateway.NewOfflineQueue(logger)
	supervisor := gateway.NewSupervisor(gateway.SupervisorOptions{
		Client: gateway.Options{
			URL:            cfg.Gateway.URL,
			Auth:           auth,
			Sink:           console,
			ClientID:       "clawdeck",
			DisplayName:    "Clawdeck Console",
			Version:        version,
			Role:           cfg.Gateway.Role,
			Scopes:         cfg.Gateway.Scopes,
			RequestTimeout: cfg.RequestTimeout(),
			ConnectDelay:   cfg.ConnectDelay(),
			Logger:         logger,
		},
		Queue:      queue,
		OnSessions: console.refreshSessions,
		OnHistory:  console.reloadHistory,
		Logger:     logger,
	})
	console.attach(supervisor, queue)

	supervisor.Start(ctx)
	defer supervisor.Stop()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return console.readInput(groupCtx, os.Stdin)
	})
	group.Go(func() error {
		<-groupCtx.Done()
		return nil
	})
	if err := group.Wait(); err != nil && err != errExit {
		return err
	}
	return nil
}

func buildAuth(cfg *config.Config) (gateway.AuthStrategy, error) {
	if cfg.Gateway.Auth != config.AuthModeDevice {
		return gateway.TokenAuth{Token: cfg.Gateway.Token, Password: cfg.Gateway.Password}, nil
	}
	identity, err := gateway.LoadOrCreateDeviceIdentity(config.StateDir())
	if err != nil {
		return nil, err
	}
	return &gateway.DeviceAuth{
		Identity: identity,
		Store:    gateway.NewDeviceTokenStore(config.StateDir()),
		ClientID: "clawdeck",
		Mode:     "ui",
		Role:     cfg.Gateway.Role,
		Scopes:   cfg.Gateway.Scopes,
	}, nil
}

var errExit = fmt.Errorf("exit requested")

// console wires the transport sink, the chat processor, and the command
// router to stdin/stdout.
type console struct {
	cfg        *config.Config
	logger     *logging.Logger
	processor  *chat.Processor
	supervisor *gateway.Supervisor
	queue      *gateway.OfflineQueue
	exitCh     chan struct{}
}

func newConsole(sessionKey string, cfg *config.Config, logger *logging.Logger) *console {
	c := &console{cfg: cfg, logger: logger, exitCh: make(chan struct{})}
	c.processor = chat.NewProcessor(sessionKey, chat.Hooks{
		AssistantUpdate: func(text, runID string) {
			// Streaming deltas replace each other; print only finals to keep
			// line-oriented output readable.
		},
		AssistantFinal: func(text, runID string) {
			fmt.Printf("\nassistant> %s\n", text)
		},
		System: func(text string) {
			fmt.Printf("[system] %s\n", text)
		},
		Status: func(name string) {
			fmt.Printf("[status] %s\n", name)
		},
		RefreshHistory: func() {
			go c.reloadHistory(context.Background(), c.supervisor.Client())
		},
	}, logger)
	c.processor.SetIncludeThinking(cfg.Chat.IncludeThinking)
	c.processor.SetVerboseLevel(cfg.Chat.VerboseLevel)
	return c
}

func (c *console) attach(supervisor *gateway.Supervisor, queue *gateway.OfflineQueue) {
	c.supervisor = supervisor
	c.queue = queue
}

// EventSink implementation; dispatched synchronously from the read loop.

func (c *console) Connected() {
	fmt.Println("[gateway] connected")
}

func (c *console) Disconnected(reason string) {
	fmt.Printf("[gateway] disconnected: %s\n", reason)
}

func (c *console) Gap(expected, received int64) {
	// A gap means dropped events; the history reload reconciles.
	fmt.Printf("[gateway] event gap (expected %d, got %d), reloading history\n", expected, received)
	go c.reloadHistory(context.Background(), c.supervisor.Client())
}

func (c *console) Event(name string, payload any, seq int64) {
	c.processor.HandleEvent(name, payload)
}

func (c *console) refreshSessions(ctx context.Context, client *gateway.Client) {
	payload, err := client.ListSessions(ctx, nil)
	if err != nil {
		fmt.Printf("[system] session refresh failed: %v\n", err)
		return
	}
	sessions := chat.ParseSessions(payload)
	fmt.Printf("[gateway] %d sessions\n", len(sessions))
}

func (c *console) reloadHistory(ctx context.Context, client *gateway.Client) {
	if client == nil {
		return
	}
	payload, err := client.History(ctx, c.processor.SessionKey(), c.cfg.Chat.HistoryLimit)
	if err != nil {
		fmt.Printf("[system] history reload failed: %v\n", err)
		return
	}
	for _, message := range chat.ParseHistory(payload) {
		label := message.Role
		if message.ToolName != "" {
			label = fmt.Sprintf("%s(%s)", message.Role, message.ToolName)
		}
		fmt.Printf("%s %s> %s\n", message.Timestamp, label, message.Content)
	}
}

func (c *console) readInput(ctx context.Context, in *os.File) error {
	// The live client changes across reconnects, so the router talks to the
	// supervisor through an adapter that resolves the client per call.
	router := chat.NewRouter(supervisorTransport{c.supervisor}, c.processor, chat.RouterHooks{
		SendText: c.sendText,
		System: func(text string) {
			fmt.Printf("[system] %s\n", text)
		},
		ReloadHistory: func(limit int) {
			go c.reloadHistory(context.Background(), c.supervisor.Client())
		},
		SwitchSession: func(key string) {
			old := c.processor.SessionKey()
			if key == old {
				return
			}
			// Queued sends are scoped to the chat context they were typed in.
			c.queue.ClearSession(old)
			c.processor.SetSessionKey(key)
			c.logger.SetSessionKey(key)
			fmt.Printf("[system] switched to %s\n", key)
			go c.reloadHistory(context.Background(), c.supervisor.Client())
		},
		Clear: func() {
			fmt.Print("\033[2J\033[H")
		},
		Exit: func() {
			close(c.exitCh)
		},
	}, c.logger)

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lines := make(chan string)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.exitCh:
			return errExit
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			c.handleLine(ctx, router, line)
		}
	}
}

func (c *console) handleLine(ctx context.Context, router *chat.Router, line string) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return
	}

	parsed := chat.ParseInput(line)
	switch parsed.Kind {
	case chat.KindCommand:
		router.Route(ctx, parsed)
	case chat.KindBang:
		fmt.Println("[system] shell passthrough is not supported in the headless console")
	default:
		c.sendText(ctx, line)
	}
}

func (c *console) sendText(ctx context.Context, text string) {
	runID, err := c.supervisor.Send(ctx, gateway.ChatSend{
		SessionKey: c.processor.SessionKey(),
		Message:    text,
		Deliver:    true,
		TimeoutMs:  c.cfg.Gateway.RequestTimeoutMs,
	})
	if runID != "" {
		c.processor.NoteLocalRun(runID)
	}
	if err != nil {
		var queued *gateway.ErrQueued
		if errors.As(err, &queued) {
			fmt.Println("[system] queued (offline)")
			return
		}
		c.processor.ForgetLocalRun(runID)
		fmt.Printf("[system] send failed: %v\n", err)
	}
}

// supervisorTransport resolves the supervisor's live client on every call so
// the router survives reconnects without re-wiring.
type supervisorTransport struct {
	supervisor *gateway.Supervisor
}

func (t supervisorTransport) client() (*gateway.Client, error) {
	client := t.supervisor.Client()
	if client == nil {
		return nil, &gateway.DisconnectedError{Reason: "not connected"}
	}
	return client, nil
}

func (t supervisorTransport) Abort(ctx context.Context, sessionKey, runID string) error {
	client, err := t.client()
	if err != nil {
		return err
	}
	return client.Abort(ctx, sessionKey, runID)
}

func (t supervisorTransport) ListSessions(ctx context.Context, filter map[string]any) (json.RawMessage, error) {
	client, err := t.client()
	if err != nil {
		return nil, err
	}
	return client.ListSessions(ctx, filter)
}

func (t supervisorTransport) PatchSession(ctx context.Context, sessionKey string, patch map[string]any) (json.RawMessage, error) {
	client, err := t.client()
	if err != nil {
		return nil, err
	}
	return client.PatchSession(ctx, sessionKey, patch)
}

func (t supervisorTransport) ResetSession(ctx context.Context, sessionKey string) (json.RawMessage, error) {
	client, err := t.client()
	if err != nil {
		return nil, err
	}
	return client.ResetSession(ctx, sessionKey)
}

func (t supervisorTransport) ListAgents(ctx context.Context) (json.RawMessage, error) {
	client, err := t.client()
	if err != nil {
		return nil, err
	}
	return client.ListAgents(ctx)
}

func (t supervisorTransport) ListModels(ctx context.Context) (json.RawMessage, error) {
	client, err := t.client()
	if err != nil {
		return nil, err
	}
	return client.ListModels(ctx)
}

func (t supervisorTransport) Status(ctx context.Context) (json.RawMessage, error) {
	client, err := t.client()
	if err != nil {
		return nil, err
	}
	return client.Status(ctx)
}
