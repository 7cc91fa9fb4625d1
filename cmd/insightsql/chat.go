package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/insightsql-dev/insightsql"
	"github.com/insightsql-dev/insightsql/internal/agent"
	"github.com/insightsql-dev/insightsql/internal/language"
	"github.com/insightsql-dev/insightsql/internal/observability"
	pkgobs "github.com/insightsql-dev/insightsql/pkg/observability"
	"github.com/insightsql-dev/insightsql/pkg/session"
)

var chatCmd = &cobra.Command{
	Use:   "chat [database-uri]",
	Short: "Start an interactive chat session against a database",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runChat,
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	uri := cfg.DatabaseURI
	if len(args) > 0 {
		uri = args[0]
	}

	pkgobs.InitMetrics()
	if err := observability.InitFromEnv(); err != nil {
		log.Printf("tracing disabled: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = observability.Shutdown(shutdownCtx)
	}()

	manager, err := insightsql.New(cfg)
	if err != nil {
		return err
	}
	defer manager.Close()

	if err := manager.StartJanitor(cfg.Session.JanitorSchedule); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Server.EnableMetrics {
		obsServer := pkgobs.NewServer(cfg.Server.MetricsPort)
		g.Go(func() error {
			log.Printf("metrics listening on :%d", cfg.Server.MetricsPort)
			if err := obsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return obsServer.Shutdown(shutdownCtx)
		})
	}

	sess, err := manager.Open(ctx)
	if err != nil {
		return err
	}

	if cfg.Server.EnableMetrics {
		// No attached database is still healthy; readiness degrades only
		// when an attached one stops answering.
		pkgobs.InitHealthChecker().RegisterCheck(&pkgobs.HealthCheck{
			Name: "database",
			CheckFunc: func(ctx context.Context) error {
				if !sess.Connected() {
					return nil
				}
				return sess.Ping(ctx)
			},
		})
	}

	if uri != "" {
		if err := manager.Connect(ctx, sess, uri); err != nil {
			return err
		}
		fmt.Printf("Connected to %s (%d tables)\n", uri, len(sess.Schema().TableNames()))
	}

	g.Go(func() error {
		defer stop()
		return repl(gctx, manager, sess)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

const replHelp = `Commands:
  /connect <uri>   connect to a database (sqlite:///path or a file path)
  /lang <en|id>    switch the answer language
  /schema          show the connected schema
  /trace           show the reasoning trace of the last answer
  /clear           clear the visible chat, keep the agent's memory
  /reset           wipe everything and disconnect
  /quit            exit
Anything else is asked to the agent.`

func repl(ctx context.Context, manager *session.Manager, sess *session.AgentSession) error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	fmt.Println("InsightSQL. Type /help for commands.")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		input, err := line.Prompt("insightsql> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		if strings.HasPrefix(input, "/") {
			if quit := command(ctx, manager, sess, input); quit {
				return nil
			}
			continue
		}

		turn, err := sess.Ask(ctx, input)
		if err != nil && turn == nil {
			fmt.Printf("error: %v\n", err)
			continue
		}
		fmt.Println(turn.Content)
		if turn.Failed {
			printTrace(turn)
		}
	}
}

// command handles a /-prefixed REPL command and reports whether the
// REPL should exit.
func command(ctx context.Context, manager *session.Manager, sess *session.AgentSession, input string) bool {
	fields := strings.Fields(input)
	switch fields[0] {
	case "/quit", "/exit":
		return true

	case "/help":
		fmt.Println(replHelp)

	case "/connect":
		if len(fields) < 2 {
			fmt.Println("usage: /connect <uri>")
			return false
		}
		if err := manager.Connect(ctx, sess, fields[1]); err != nil {
			fmt.Printf("connect failed: %v\n", err)
			return false
		}
		fmt.Printf("Connected (%d tables)\n", len(sess.Schema().TableNames()))

	case "/lang":
		if len(fields) < 2 {
			fmt.Printf("current language: %s\n", sess.Language().DisplayName())
			return false
		}
		lang, err := language.Parse(fields[1])
		if err != nil {
			fmt.Printf("error: %v\n", err)
			return false
		}
		sess.SetLanguage(lang)
		fmt.Printf("answers will be in %s\n", lang.DisplayName())

	case "/schema":
		if schema := sess.Schema(); schema != nil {
			fmt.Println(schema.Render())
		} else {
			fmt.Println("not connected")
		}

	case "/trace":
		view := sess.View()
		for i := len(view) - 1; i >= 0; i-- {
			if view[i].Role == session.RoleAssistant {
				printTrace(view[i])
				return false
			}
		}
		fmt.Println("no answer yet")

	case "/clear":
		sess.SoftReset()
		fmt.Println("chat cleared, memory kept")

	case "/reset":
		if err := sess.HardReset(ctx); err != nil {
			fmt.Printf("reset failed: %v\n", err)
			return false
		}
		fmt.Println("session terminated")
		return true

	default:
		fmt.Printf("unknown command %s, try /help\n", fields[0])
	}
	return false
}

// printTrace renders the reasoning steps behind an assistant turn.
func printTrace(turn *session.Turn) {
	for _, step := range turn.Steps {
		switch step.Kind {
		case agent.StepAction:
			if step.Invocation != nil {
				fmt.Printf("  [sql] %s\n", step.Invocation.Statement)
			}
		case agent.StepObservation:
			if step.Invocation == nil {
				continue
			}
			if step.Invocation.Error != "" {
				fmt.Printf("  [error] %s\n", step.Invocation.Error)
			} else if step.Invocation.Rows != nil {
				fmt.Printf("  [rows] %d returned\n", len(step.Invocation.Rows.Values))
			}
		default:
			fmt.Printf("  [%s] %s\n", step.Kind, step.Content)
		}
	}
}
