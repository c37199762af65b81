package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/lacehq/lace/pkg/agent"
	"github.com/lacehq/lace/pkg/presenter"
)

const helpText = `Available commands:
  /help   - show this help
  /usage  - show session token usage and cost
  /exit   - quit lace`

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat session",
	Long:  `Start an interactive chat session with Lace through stdin.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		stdin := bufio.NewReader(os.Stdin)
		s, err := newSession(ctx, stdin)
		if err != nil {
			return err
		}
		defer s.Close()

		stopSignals := handleInterrupts(s.agent)
		defer stopSignals()

		fmt.Printf("lace | thread %s | /help for commands\n", s.agent.ThreadID())
		if err := s.agent.ReplaySessionEvents(ctx); err != nil {
			return err
		}

		for {
			fmt.Print("> ")
			line, err := stdin.ReadString('\n')
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return errors.Wrap(err, "failed to read input")
			}

			input := strings.TrimSpace(line)
			switch {
			case input == "":
				continue
			case input == "/exit":
				return nil
			case input == "/help":
				// Recorded on the thread; the renderer displays it from
				// the thread_event_added announcement.
				if err := s.agent.AddLocalSystemMessage(ctx, helpText); err != nil {
					presenter.Error(err, "failed to record help")
				}
				continue
			case input == "/usage":
				s.printUsage()
				continue
			case strings.HasPrefix(input, "/"):
				fmt.Printf("Unknown command: %s\n", input)
				if err := s.agent.AddLocalSystemMessage(ctx, helpText); err != nil {
					presenter.Error(err, "failed to record help")
				}
				continue
			}

			if _, err := s.agent.SendMessage(ctx, input); err != nil {
				if errors.Is(err, agent.ErrAborted) {
					continue
				}
				if errors.Is(err, agent.ErrIterationLimit) {
					// The persisted turn notice already rendered.
					continue
				}
				presenter.Error(err, "turn failed")
			}
		}
	},
}

// handleInterrupts aborts the running turn on SIGINT; a second SIGINT
// within 2 seconds exits with code 130.
func handleInterrupts(a *agent.Agent) func() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		var lastInterrupt time.Time
		for range sigCh {
			now := time.Now()
			if now.Sub(lastInterrupt) < 2*time.Second {
				fmt.Println("\n[lace] exiting")
				os.Exit(130)
			}
			lastInterrupt = now
			if a.Abort() {
				fmt.Println("\n[lace] aborting turn, interrupt again within 2s to exit")
			} else {
				fmt.Println("\n[lace] interrupt again within 2s to exit")
			}
		}
	}()

	return func() { signal.Stop(sigCh) }
}
