package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"sprache-backend/internal/chatstate"
	"sprache-backend/internal/client"
	"sprache-backend/internal/models"
	"sprache-backend/internal/observability"
)

const help = `Commands:
  /new              start a new lesson
  /list             list conversations
  /select <id>      switch conversation
  /rename <title>   rename the current conversation
  /delete           delete the current conversation
  /history          show the current conversation newest first
  /say <file>       save the last reply as mp3
  exit              quit
Anything else is sent to the tutor.`

func main() {
	server := flag.String("server", "http://localhost:8080", "chat API base URL")
	env := flag.String("env", "production", "log format: development or production")
	flag.Parse()

	logger, err := observability.NewLogger(*env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	api := client.New(*server, nil)
	state := chatstate.New(api)

	if err := state.Mount(ctx); err != nil {
		logger.Fatal("could not load conversations", zap.String("server", *server), zap.Error(err))
	}

	go follow(ctx, api, state, logger)

	fmt.Println("Willkommen! Type /help for commands (or 'exit' to quit).")
	printSelected(state)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Printf("Input: > ")
		if !scanner.Scan() {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" {
			fmt.Println("Tschüss!")
			break
		}

		if err := run(ctx, api, state, scanner, input); err != nil {
			report(state, err)
		}
	}
}

func run(ctx context.Context, api *client.Client, state *chatstate.State, scanner *bufio.Scanner, input string) error {
	cmd, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/help":
		fmt.Println(help)

	case "/new":
		if err := state.NewChat(ctx); err != nil {
			return err
		}
		printSelected(state)

	case "/list":
		selected := state.SelectedID()
		for _, c := range state.Conversations() {
			marker := " "
			if c.ID == selected {
				marker = "*"
			}
			fmt.Printf("%s %d  %s  (%d messages)\n", marker, c.ID, c.Title, len(c.Messages))
		}

	case "/select":
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return fmt.Errorf("usage: /select <id>")
		}
		if err := state.Select(id); err != nil {
			return err
		}
		printSelected(state)

	case "/rename":
		if arg == "" {
			return fmt.Errorf("usage: /rename <title>")
		}
		id := state.SelectedID()
		if id == 0 {
			return chatstate.ErrNoSelection
		}
		return state.Rename(ctx, id, arg)

	case "/delete":
		id := state.SelectedID()
		if id == 0 {
			return chatstate.ErrNoSelection
		}
		if !confirm(scanner, fmt.Sprintf("Delete conversation %d?", id)) {
			return nil
		}
		return state.Delete(ctx, id)

	case "/history":
		id := state.SelectedID()
		if id == 0 {
			return chatstate.ErrNoSelection
		}
		entries, err := api.History(ctx, id)
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Printf("[%s] %s %s: %s\n", e.CreatedAt.Local().Format(time.DateTime), e.ConversationTitle, e.Role, e.Content)
		}

	case "/say":
		if arg == "" {
			return fmt.Errorf("usage: /say <file>")
		}
		return say(ctx, api, state, arg)

	default:
		state.SetInput(input)
		if err := state.Send(ctx); err != nil {
			return err
		}
		conv, _ := state.Selected()
		if n := len(conv.Messages); n > 0 {
			fmt.Println("Output: >", conv.Messages[n-1].Content)
		}
	}
	return nil
}

func say(ctx context.Context, api *client.Client, state *chatstate.State, path string) error {
	conv, ok := state.Selected()
	if !ok {
		return chatstate.ErrNoSelection
	}
	var reply string
	for i := len(conv.Messages) - 1; i >= 0; i-- {
		if conv.Messages[i].Role == models.RoleAssistant {
			reply = conv.Messages[i].Content
			break
		}
	}
	if reply == "" {
		return errors.New("nothing to read out yet")
	}

	audio, err := api.Speak(ctx, reply)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, audio, 0o644); err != nil {
		return err
	}
	fmt.Printf("Saved %d bytes to %s\n", len(audio), path)
	return nil
}

// follow applies pushed events until ctx is done, reconnecting after drops.
func follow(ctx context.Context, api *client.Client, state *chatstate.State, logger *zap.Logger) {
	for ctx.Err() == nil {
		err := api.Subscribe(ctx, func(msg models.WSMessage) {
			if err := state.Apply(ctx, msg); err != nil {
				logger.Debug("could not apply event", zap.String("type", msg.Type), zap.Error(err))
			}
		})
		if ctx.Err() != nil {
			return
		}
		logger.Debug("event stream disconnected", zap.Error(err))

		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
}

func printSelected(state *chatstate.State) {
	conv, ok := state.Selected()
	if !ok {
		fmt.Println("No conversation yet. Type /new to start one.")
		return
	}
	fmt.Printf("── %s ──\n", conv.Title)
	for _, m := range conv.Messages {
		prefix := "Input: >"
		if m.Role == models.RoleAssistant {
			prefix = "Output: >"
		}
		fmt.Println(prefix, m.Content)
	}
}

func report(state *chatstate.State, err error) {
	notice := state.Notice()
	var apiErr *client.APIError
	if errors.As(err, &apiErr) && notice != "" {
		fmt.Println("!", notice)
		return
	}
	fmt.Println("!", err)
}

func confirm(scanner *bufio.Scanner, question string) bool {
	fmt.Printf("%s [y/N] ", question)
	if !scanner.Scan() {
		return false
	}
	answer := strings.TrimSpace(scanner.Text())
	return strings.EqualFold(answer, "y") || strings.EqualFold(answer, "yes")
}
