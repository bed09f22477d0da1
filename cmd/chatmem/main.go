package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/comigor/chatmem/internal/agent"
	"github.com/comigor/chatmem/internal/config"
	"github.com/comigor/chatmem/internal/llm"
	"github.com/comigor/chatmem/internal/logger"
	"github.com/comigor/chatmem/internal/search"
	"github.com/comigor/chatmem/internal/session"
	"github.com/comigor/chatmem/internal/store"
	"github.com/comigor/chatmem/pkg/tools"
)

const helpText = `
Commands:
  /new                 Start a new chat
  /chats               List recent chats
  /load <chat_id>      Load an existing chat by id
  /history             Print current chat history (user+assistant)
  /delete <chat_id>    Delete a chat (careful)
  /reset               Alias for /new
  /help                Show this help
  quit | exit | bye    Quit
`

func main() {
	if err := run(); err != nil {
		logger.L.Error("startup failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	logger.SetLevel(cfg.Log.Level)

	if cfg.LLM.APIKey == "" {
		return fmt.Errorf("no API key configured: set llm.api_key or OPENAI_API_KEY")
	}

	st, err := store.Open(cfg.History.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	registry := tools.NewRegistry()
	searchMgr := newSearchManager(cfg.Search)
	if searchMgr.Configured() {
		registry.Register(tools.NewWebSearch(searchMgr, cfg.Search.MaxResults))
	} else {
		logger.L.Warn("no search provider configured; web_search is unavailable")
	}
	closers := tools.RegisterMCPServers(context.Background(), registry, cfg.MCPServers)
	defer func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logger.L.Warn("MCP client close error", "error", err)
			}
		}
	}()

	systemPrompt := cfg.LLM.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = agent.DefaultSystemPrompt
	}

	sessions, err := session.NewManager(context.Background(), st, systemPrompt)
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}

	chatAgent := agent.New(llm.NewClient(cfg.LLM), st, registry, agent.Config{
		Model:           cfg.LLM.Model,
		ContextMessages: cfg.History.ContextMessages,
		ModelTimeout:    time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
		ToolTimeout:     time.Duration(cfg.Search.TimeoutSeconds) * time.Second,
	})

	fmt.Println("Web-enabled chatbot started.")
	fmt.Println("Type /help for commands.")
	fmt.Printf("\nCurrent chat_id: %s\n\n", sessions.Active())

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for {
		fmt.Print("You: ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		switch strings.ToLower(input) {
		case "quit", "exit", "bye":
			fmt.Println("Chatbot: Bye.")
			return nil
		}

		if strings.HasPrefix(input, "/") {
			handleCommand(st, sessions, cfg, input)
			continue
		}

		reply, err := chatAgent.Turn(context.Background(), sessions.Active(), input)
		if err != nil {
			fmt.Printf("Chatbot error: %v\n\n", err)
			continue
		}
		fmt.Printf("Chatbot: %s\n\n", reply)
	}
	return nil
}

func newSearchManager(cfg config.SearchConfig) *search.Manager {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	mgr := search.NewManager(cfg.Provider)
	if cfg.SearXNG.URL != "" {
		mgr.Register(search.NewSearXNG(cfg.SearXNG.URL, timeout))
	}
	if cfg.Brave.APIKey != "" {
		mgr.Register(search.NewBrave(cfg.Brave.APIKey, timeout))
	}
	return mgr
}

func handleCommand(st *store.Store, sessions *session.Manager, cfg *config.Config, raw string) {
	ctx := context.Background()
	parts := strings.SplitN(raw, " ", 2)
	cmd := strings.ToLower(parts[0])
	arg := ""
	if len(parts) > 1 {
		arg = strings.TrimSpace(parts[1])
	}

	switch cmd {
	case "/help":
		fmt.Printf("%s\n", helpText)

	case "/new", "/reset":
		id, err := sessions.NewSession(ctx)
		if err != nil {
			fmt.Printf("Chatbot error: %v\n\n", err)
			return
		}
		fmt.Printf("\nChatbot: New chat started.\nCurrent chat_id: %s\n\n", id)

	case "/chats":
		chats, err := sessions.List(ctx, cfg.History.ListLimit)
		if err != nil {
			fmt.Printf("Chatbot error: %v\n\n", err)
			return
		}
		fmt.Println("\n--- Recent Chats ---")
		for _, c := range chats {
			fmt.Printf("%s  |  %s  |  %s\n", c.ID, c.Title, c.CreatedAt.Format(time.RFC3339))
		}
		fmt.Println("--- End ---")
		fmt.Println()

	case "/load":
		if arg == "" {
			fmt.Println("Chatbot: Usage: /load <chat_id>")
			fmt.Println()
			return
		}
		if err := sessions.Switch(ctx, arg); err != nil {
			fmt.Printf("Chatbot error: %v\n\n", err)
			return
		}
		fmt.Printf("\nChatbot: Loaded chat_id: %s\n\n", arg)

	case "/history":
		hist, err := st.FullHistory(ctx, sessions.Active(), cfg.History.HistoryLimit)
		if err != nil {
			fmt.Printf("Chatbot error: %v\n\n", err)
			return
		}
		fmt.Println("\n--- History ---")
		if len(hist) == 0 {
			fmt.Println("(no messages yet)")
		}
		for _, m := range hist {
			fmt.Printf("%s: %s\n", strings.ToUpper(string(m.Role)), m.Content)
		}
		fmt.Println("--- End ---")
		fmt.Println()

	case "/delete":
		if arg == "" {
			fmt.Println("Chatbot: Usage: /delete <chat_id>")
			fmt.Println()
			return
		}
		replacement, err := sessions.Delete(ctx, arg)
		if err != nil {
			fmt.Printf("Chatbot error: %v\n\n", err)
			return
		}
		fmt.Printf("Chatbot: Deleted chat %s\n", arg)
		if replacement != "" {
			fmt.Printf("Chatbot: New chat started.\nCurrent chat_id: %s\n", replacement)
		}
		fmt.Println()

	default:
		fmt.Println("Chatbot: Unknown command. Type /help")
		fmt.Println()
	}
}
