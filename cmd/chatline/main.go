package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"chatline/app/internal/config"
	"chatline/app/internal/conversation"
	"chatline/app/internal/models"
	"chatline/app/internal/session"
	"chatline/app/internal/transport"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: Error loading .env file")
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	email := os.Getenv("CHATLINE_EMAIL")
	password := os.Getenv("CHATLINE_PASSWORD")
	if email == "" || password == "" {
		sugar.Fatalw("CHATLINE_EMAIL and CHATLINE_PASSWORD must be set")
	}

	cfg := config.LoadClient()
	sess := session.New(cfg.WSURL, sugar)
	api := transport.NewClient(cfg.APIBaseURL, sess.Token, sugar)

	ctx := context.Background()

	user, token, err := api.Login(ctx, email, password)
	if err != nil {
		sugar.Fatalw("login failed", "error", err)
	}
	sess.SetIdentity(user, token)
	if err := sess.Connect(); err != nil {
		sugar.Fatalw("push connection failed", "error", err)
	}
	defer sess.Disconnect()

	friends, err := api.FetchFriends(ctx)
	if err != nil {
		sugar.Fatalw("failed to fetch contacts", "error", err)
	}
	if len(friends) == 0 {
		fmt.Println("No contacts yet. Register another account and say hi.")
		return
	}

	engine := conversation.New(sess, api, sugar)
	defer engine.Close()

	go func() {
		for err := range engine.Errors() {
			fmt.Printf("!! %v\n", err)
		}
	}()

	fmt.Printf("Signed in as %s <%s>\n", user.FullName, user.Email)
	printContacts(friends, sess.OnlineUsers())

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())

		switch {
		case line == "/quit":
			return

		case line == "/contacts":
			printContacts(friends, sess.OnlineUsers())

		case line == "/history":
			printMessages(user.ID, engine.Messages())

		case strings.HasPrefix(line, "/open "):
			arg := strings.TrimSpace(strings.TrimPrefix(line, "/open "))
			peer := findContact(friends, arg)
			if peer == nil {
				fmt.Println("No such contact. Try /contacts.")
				continue
			}
			if err := engine.SelectPeer(ctx, peer); err != nil {
				fmt.Printf("!! %v\n", err)
				continue
			}
			fmt.Printf("-- conversation with %s --\n", peer.FullName)
			printMessages(user.ID, engine.Messages())

		case line == "":
			// nothing typed

		default:
			engine.Send(ctx, transport.SendPayload{Text: line})
		}
	}
}

func printContacts(friends []models.User, onlineIDs []string) {
	online := make(map[string]bool, len(onlineIDs))
	for _, id := range onlineIDs {
		online[id] = true
	}
	for i, f := range friends {
		marker := " "
		if online[f.ID] {
			marker = "*"
		}
		fmt.Printf("%s %2d. %s <%s>\n", marker, i+1, f.FullName, f.Email)
	}
	fmt.Println("Use /open <number> to start chatting.")
}

func printMessages(selfID string, messages []models.Message) {
	for _, m := range messages {
		who := "them"
		if m.SenderID == selfID {
			who = "me"
		}
		body := m.Text
		if body == "" && m.Image != "" {
			body = "[image]"
		}
		fmt.Printf("[%s] %s: %s (%s)\n", m.CreatedAt.Local().Format("15:04"), who, body, m.Status)
	}
}

func findContact(friends []models.User, arg string) *models.User {
	if n, err := strconv.Atoi(arg); err == nil && n >= 1 && n <= len(friends) {
		peer := friends[n-1]
		return &peer
	}
	for _, f := range friends {
		if f.Email == arg || f.ID == arg {
			peer := f
			return &peer
		}
	}
	return nil
}
