// ABOUTME: Subcommands that talk to a running parley server over HTTP
// ABOUTME: health, conversations and the interactive terminal chat

package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"github.com/2389/parley/internal/bus"
	"github.com/2389/parley/internal/client"
	"github.com/2389/parley/internal/config"
	"github.com/2389/parley/internal/conversation"
	"github.com/2389/parley/internal/identity"
	"github.com/2389/parley/internal/store"
)

// remoteFlags are shared by every subcommand that calls the server.
type remoteFlags struct {
	configPath string
	server     string
	token      string
}

func newRemoteFlagSet(name string) (*flag.FlagSet, *remoteFlags) {
	rf := &remoteFlags{}
	flags := newFlagSet(name, &rf.configPath)
	flags.StringVar(&rf.server, "server", os.Getenv("PARLEY_SERVER"), "server URL (default from config http_addr)")
	flags.StringVar(&rf.token, "token", os.Getenv("PARLEY_TOKEN"), "operator session token (default from the saved token file)")
	return flags, rf
}

// remote is a resolved server connection.
type remote struct {
	server     string
	api        *client.APIClient
	operatorID string
	token      string
}

// resolve fills unset flags from the config file and the saved token. The
// config is optional when --server is given.
func (rf *remoteFlags) resolve() (*remote, error) {
	cfg, err := config.Load(rf.configPath)
	if err != nil {
		if rf.server == "" {
			return nil, fmt.Errorf("loading config (or pass --server): %w", err)
		}
		cfg = nil
	}

	server := rf.server
	if server == "" {
		server = "http://" + cfg.Server.HTTPAddr
	}

	token := rf.token
	if token == "" {
		data, err := os.ReadFile(tokenPath(rf.configPath))
		switch {
		case err == nil:
			token = strings.TrimSpace(string(data))
		case !errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("reading token file: %w", err)
		}
	}

	return &remote{
		server:     server,
		api:        client.NewAPIClient(server, token),
		operatorID: operatorIDOrDefault(cfg),
		token:      token,
	}, nil
}

func runHealth(ctx context.Context, args []string) error {
	flags, rf := newRemoteFlagSet("health")
	if err := flags.Parse(args); err != nil {
		return err
	}
	r, err := rf.resolve()
	if err != nil {
		return err
	}

	if err := r.api.Health(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	fmt.Println("healthy")
	return nil
}

func runConversations(ctx context.Context, args []string) error {
	flags, rf := newRemoteFlagSet("conversations")
	if err := flags.Parse(args); err != nil {
		return err
	}
	r, err := rf.resolve()
	if err != nil {
		return err
	}

	convs, err := r.api.Conversations(ctx)
	if err != nil {
		return fmt.Errorf("listing conversations: %w", err)
	}
	if len(convs) == 0 {
		fmt.Println("No conversations yet.")
		return nil
	}
	renderConversations(os.Stdout, convs, time.Now())
	return nil
}

// renderConversations prints the inbox as a borderless table.
func renderConversations(w io.Writer, convs []conversation.Conversation, now time.Time) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Counterpart", "Unread", "Last Activity", "Last Message"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	for _, c := range convs {
		unread := ""
		if c.UnreadCount > 0 {
			unread = fmt.Sprintf("%d", c.UnreadCount)
		}
		table.Append([]string{
			c.CounterpartID,
			unread,
			formatAge(now.Sub(c.LastMessageTime)),
			bus.NotificationPreview(c.LastMessage),
		})
	}
	table.Render()
}

// formatAge renders a duration as a short "ago" string.
func formatAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

// formatMessage renders one chat line from self's point of view.
func formatMessage(msg *store.Message, self string) string {
	who := msg.SenderID
	if msg.SenderID == self {
		who = "you"
	}
	return fmt.Sprintf("[%s] %s: %s", msg.CreatedAt.Local().Format("15:04:05"), who, msg.Content)
}

func runChat(ctx context.Context, args []string) error {
	flags, rf := newRemoteFlagSet("chat")
	as := flags.String("as", "visitor", "chat as visitor or operator")
	with := flags.String("with", "", "counterpart id (operator: required; visitor: defaults to the operator)")
	if err := flags.Parse(args); err != nil {
		return err
	}
	r, err := rf.resolve()
	if err != nil {
		return err
	}

	var self, counterpart string
	api := r.api
	switch *as {
	case "visitor":
		// Visitors never present the operator's saved session.
		api = client.NewAPIClient(r.server, "")
		resolver := identity.NewResolver(identity.NewFileTokenStore(visitorTokenPath()))
		self, err = resolver.ResolveVisitorIdentity()
		if err != nil {
			return err
		}
		counterpart = *with
		if counterpart == "" {
			counterpart = r.operatorID
		}
	case "operator":
		if r.token == "" {
			return errors.New("operator chat needs a session token (run parley token)")
		}
		if *with == "" {
			return errors.New("--with is required for operator chat")
		}
		self, counterpart = r.operatorID, *with
	default:
		return fmt.Errorf("--as must be visitor or operator, got %q", *as)
	}

	// Chat output owns the terminal; keep library logs quiet.
	logger := setupLogger(config.LoggingConfig{Level: "warn"}, os.Stderr)

	gray := color.New(color.FgHiBlack)
	session, err := client.NewSession(client.SessionConfig{
		API:         api,
		Bus:         api,
		Self:        self,
		Counterpart: counterpart,
		Logger:      logger,
		OnMessage: func(msg *store.Message) {
			if msg.SenderID == self {
				gray.Println(formatMessage(msg, self))
				return
			}
			fmt.Println(formatMessage(msg, self))
		},
	})
	if err != nil {
		return err
	}

	fmt.Printf("parley chat: %s ↔ %s\n", self, counterpart)
	fmt.Println("Type a message and press Enter. /help for commands. Ctrl+C to quit.")
	fmt.Println()

	if err := session.Start(ctx); err != nil {
		return fmt.Errorf("starting session: %w", err)
	}
	defer session.Close()

	if *as == "operator" {
		go watchOtherConversations(ctx, api, self, counterpart, logger)
	}

	return chatLoop(ctx, os.Stdin, session, api, self, counterpart, *as == "operator")
}

// watchOtherConversations prints notifications from counterparts other than
// the one currently on screen.
func watchOtherConversations(ctx context.Context, sub bus.Subscriber, self, current string, logger *slog.Logger) {
	yellow := color.New(color.FgYellow)
	err := client.WatchNotifications(ctx, sub, self, func(n bus.Notification) {
		if n.From == current {
			return
		}
		yellow.Printf("[notification] %s: %s\n", n.From, n.Message)
	})
	if err != nil {
		logger.Warn("notifications unavailable", "error", err)
	}
}

func chatLoop(ctx context.Context, in io.Reader, session *client.Session, api *client.APIClient, self, counterpart string, operator bool) error {
	lines := make(chan string)
	errCh := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			errCh <- err
			return
		}
		errCh <- io.EOF
	}()

	for {
		var input string
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		case input = <-lines:
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		switch {
		case input == "/quit" || input == "/exit" || input == "/q":
			return nil
		case input == "/help":
			printChatHelp(operator)
		case input == "/history":
			for _, msg := range session.Messages() {
				fmt.Println(formatMessage(msg, self))
			}
		case input == "/read" && operator:
			n, err := api.MarkRead(ctx, counterpart)
			if err != nil {
				fmt.Printf("[error] %v\n", err)
				continue
			}
			fmt.Printf("marked %d message(s) read\n", n)
		case strings.HasPrefix(input, "/search ") && operator:
			hits, err := api.Search(ctx, strings.TrimSpace(strings.TrimPrefix(input, "/search ")), 10)
			if err != nil {
				fmt.Printf("[error] %v\n", err)
				continue
			}
			for _, h := range hits {
				fmt.Printf("  %s → %s: %s\n", h.SenderID, h.ReceiverID, h.Content)
			}
			if len(hits) == 0 {
				fmt.Println("  no matches")
			}
		case strings.HasPrefix(input, "/"):
			fmt.Printf("unknown command %s (try /help)\n", input)
		default:
			if _, err := session.Send(ctx, input); err != nil {
				fmt.Printf("[error] %v\n", err)
			}
		}
	}
}

func printChatHelp(operator bool) {
	fmt.Println("Commands:")
	fmt.Println("  /history        reprint the conversation")
	if operator {
		fmt.Println("  /read           mark this visitor's messages read")
		fmt.Println("  /search TEXT    search all conversations")
	}
	fmt.Println("  /quit           leave the chat")
}
