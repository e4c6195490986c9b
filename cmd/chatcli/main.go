// Command chatcli talks to the configured language provider and booking
// backend from a terminal, without the HTTP layer.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/wolfman30/patientpal/internal/app/bootstrap"
	appconfig "github.com/wolfman30/patientpal/internal/config"
	"github.com/wolfman30/patientpal/internal/history"
	"github.com/wolfman30/patientpal/internal/session"
	"github.com/wolfman30/patientpal/pkg/logging"
)

func main() {
	user := flag.String("user", "console", "user id to chat as")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "no .env file found, using environment variables")
	}
	cfg := appconfig.Load()
	// Logs go to stderr so they do not interleave with the conversation.
	logger := logging.NewWithWriter(os.Stderr, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt := bootstrap.NewRuntime(logger)
	defer rt.Close()

	manager, err := bootstrap.BuildManager(ctx, cfg, rt, nil)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	if err := chat(ctx, manager, *user, os.Stdin, os.Stdout); err != nil {
		logger.Error("chat ended", "error", err)
		os.Exit(1)
	}
}

// consoleConn prints what the session sends.
type consoleConn struct {
	mu  sync.Mutex
	out io.Writer
}

func (c *consoleConn) SendHistory(messages []history.DisplayMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, msg := range messages {
		if _, err := fmt.Fprintf(c.out, "%s> %s\n", msg.Sender, msg.Text); err != nil {
			return err
		}
	}
	return nil
}

func (c *consoleConn) SendMessage(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.out, "server> %s\n", text)
	return err
}

func (c *consoleConn) Close(reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.out, "[session closed: %s]\n", reason)
	return err
}

// chat reads one utterance per line until EOF, "exit" or a closed session.
func chat(ctx context.Context, manager *session.Manager, userID string, in io.Reader, out io.Writer) error {
	conn := &consoleConn{out: out}
	sess, err := manager.Connect(ctx, userID, conn)
	if err != nil {
		return err
	}
	defer manager.Release(sess)

	scanner := bufio.NewScanner(in)
	for {
		if _, err := fmt.Fprint(out, "you> "); err != nil {
			return err
		}
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		}
		// The reply is printed by the session through conn.
		_, err := manager.HandleMessage(ctx, userID, line)
		switch {
		case err == nil:
		case errors.Is(err, session.ErrSessionClosed), errors.Is(err, session.ErrNotConnected):
			return nil
		case errors.Is(err, history.ErrStorage):
			return err
		default:
			fmt.Fprintf(out, "[error: %v]\n", err)
		}
	}
}
