package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/lacehq/lace/pkg/agent"
)

// RunOptions contains all options for the run command.
type RunOptions struct {
	prompt string
}

var runOptions = &RunOptions{}

var runCmd = &cobra.Command{
	Use:   "run [query]",
	Short: "Execute a one-shot query",
	Long:  `Execute a one-shot query and print the result.`,
	Args:  cobra.MinimumNArgs(0),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		query := runOptions.prompt
		if query == "" {
			query = strings.Join(args, " ")
		}

		// Piped stdin is appended to the query.
		stat, _ := os.Stdin.Stat()
		if (stat.Mode() & os.ModeCharDevice) == 0 {
			stdinBytes, err := io.ReadAll(os.Stdin)
			if err != nil {
				return errors.Wrap(err, "failed to read stdin")
			}
			if query != "" {
				query += "\n"
			}
			query += string(stdinBytes)
		}
		if strings.TrimSpace(query) == "" {
			return errors.New("no query provided, use -p or positional arguments")
		}

		s, err := newSession(ctx, bufio.NewReader(os.Stdin))
		if err != nil {
			return err
		}
		defer s.Close()

		stopSignals := handleInterrupts(s.agent)
		defer stopSignals()

		if _, err := s.agent.SendMessage(ctx, query); err != nil && !errors.Is(err, agent.ErrIterationLimit) {
			return err
		}

		fmt.Println()
		s.printUsage()
		return nil
	},
}

func init() {
	runCmd.Flags().StringVarP(&runOptions.prompt, "prompt", "p", "", "The query to run")
}
