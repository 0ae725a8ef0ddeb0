package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/agentworkforce/relaychat/internal/chat"
	"github.com/agentworkforce/relaychat/internal/chatwire"
)

func main() {
	serverURL := os.Getenv("RELAYCHAT_SERVER_URL")
	if serverURL == "" {
		serverURL = "http://127.0.0.1:8080"
	}
	socketURL := os.Getenv("RELAYCHAT_SOCKET_URL")
	if socketURL == "" {
		socketURL = "ws://127.0.0.1:8080/v1/socket"
	}
	token := os.Getenv("RELAYCHAT_TOKEN")
	userID := os.Getenv("RELAYCHAT_USER_ID")
	if userID == "" {
		log.Fatalf("RELAYCHAT_USER_ID is required")
	}

	journal, err := chat.BuildSendJournalFromDSN(os.Getenv("RELAYCHAT_JOURNAL_DSN"), intEnv("RELAYCHAT_JOURNAL_CAPACITY", 0))
	if err != nil {
		log.Fatalf("failed to initialize send journal: %v", err)
	}

	rest := chatwire.NewRestClient(chatwire.RestClientOptions{
		BaseURL: serverURL,
		Token:   token,
	})
	socket, err := chatwire.NewSocket(chatwire.SocketOptions{
		URL:    socketURL,
		Token:  token,
		Logger: log.Default(),
	})
	if err != nil {
		log.Fatalf("failed to build socket: %v", err)
	}
	connectCtx, cancel := context.WithTimeout(context.Background(), durationEnv("RELAYCHAT_CONNECT_TIMEOUT", 10*time.Second))
	if err := socket.Connect(connectCtx); err != nil {
		log.Printf("socket unavailable, using REST fallback: %v", err)
	}
	cancel()

	engine, err := chat.NewEngine(chat.EngineOptions{
		Transport:       socket,
		Rest:            rest,
		UserID:          userID,
		RollbackTimeout: durationEnv("RELAYCHAT_ROLLBACK_TIMEOUT", 0),
		Journal:         journal,
		Logger:          log.Default(),
		Notifier: func(n chat.Notice) {
			fmt.Printf("! %s: %s\n", n.Kind, n.Message)
		},
	})
	if err != nil {
		log.Fatalf("failed to build engine: %v", err)
	}
	defer func() {
		engine.Close()
		_ = socket.Close()
		if journal != nil {
			_ = journal.Close()
		}
	}()

	fmt.Println("relaychat ready. /open <user-id>, /group <group-id>, /list, /edit <id> <text>, /delete <id> [all], /react <id> <emoji>, /status, /quit")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			sendLine(engine, line)
			continue
		}
		if line == "/quit" {
			return
		}
		runCommand(engine, line)
	}
	if err := scanner.Err(); err != nil {
		log.Fatalf("stdin read failed: %v", err)
	}
}

func sendLine(engine *chat.Engine, content string) {
	conversation := engine.Active()
	if conversation == "" {
		fmt.Println("no conversation open; use /open <user-id> first")
		return
	}
	recipient := ""
	if !conversation.IsGroup() {
		recipient = conversation.Counterpart()
	}
	tempID, err := engine.Submit(conversation, recipient, content, nil)
	if err != nil {
		fmt.Printf("send failed: %v\n", err)
		return
	}
	fmt.Printf("… %s\n", tempID)
}

func runCommand(engine *chat.Engine, line string) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/open", "/group":
		if len(fields) < 2 {
			fmt.Println("usage: /open <user-id> | /group <group-id>")
			return
		}
		key := chat.DirectConversation(fields[1])
		if fields[0] == "/group" {
			key = chat.GroupConversation(fields[1])
		}
		if err := engine.Open(key); err != nil {
			fmt.Printf("open failed: %v\n", err)
			return
		}
		printConversation(engine, key)
	case "/list":
		printConversation(engine, engine.Active())
	case "/edit":
		if len(fields) < 3 {
			fmt.Println("usage: /edit <message-id> <new text>")
			return
		}
		content := strings.TrimSpace(strings.TrimPrefix(line, "/edit "+fields[1]))
		if err := engine.Edit(engine.Active(), fields[1], content); err != nil {
			fmt.Printf("edit failed: %v\n", err)
		}
	case "/delete":
		if len(fields) < 2 {
			fmt.Println("usage: /delete <message-id> [all]")
			return
		}
		forEveryone := len(fields) > 2 && fields[2] == "all"
		if err := engine.Delete(engine.Active(), fields[1], forEveryone); err != nil {
			fmt.Printf("delete failed: %v\n", err)
		}
	case "/react":
		if len(fields) < 3 {
			fmt.Println("usage: /react <message-id> <emoji>")
			return
		}
		if err := engine.React(engine.Active(), fields[1], fields[2], true); err != nil {
			fmt.Printf("react failed: %v\n", err)
		}
	case "/status":
		status := engine.Status()
		fmt.Printf("submitted=%d confirmed=%d rolledBack=%d failed=%d duplicates=%d pending=%d\n",
			status.Submitted, status.Confirmed, status.RolledBack, status.Failed,
			status.DuplicatesDropped, status.PendingSends)
	default:
		fmt.Printf("unknown command %s\n", fields[0])
	}
}

func printConversation(engine *chat.Engine, key chat.ConversationKey) {
	if key == "" {
		fmt.Println("no conversation open")
		return
	}
	for _, msg := range engine.Snapshot(key) {
		id := msg.ID
		if msg.Optimistic {
			id = msg.ClientTempID + " (sending)"
		}
		body := msg.Content
		if msg.Deleted {
			body = "(deleted)"
		}
		fmt.Printf("[%s] %s: %s\n", id, msg.Sender, body)
	}
}

func intEnv(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %s", name, raw, fallback.String())
		return fallback
	}
	return value
}
