// Package cli wires configuration, logging, OAuth and the Gmail client into
// the draftmerge commands. With no subcommand the interactive UI starts.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/nconklindev/draftmerge/internal/auth"
	"github.com/nconklindev/draftmerge/internal/config"
	"github.com/nconklindev/draftmerge/internal/dispatch"
	"github.com/nconklindev/draftmerge/internal/gmail"
	"github.com/nconklindev/draftmerge/internal/logging"
	"github.com/nconklindev/draftmerge/internal/ui"
)

type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

// app is the per-invocation environment shared by every command.
type app struct {
	cfg    config.Config
	logger *zap.Logger
}

func NewRootCmd(info BuildInfo) *cobra.Command {
	var (
		showVersion bool
		envFile     string
	)

	cmd := &cobra.Command{
		Use:   "draftmerge",
		Short: "Create Gmail drafts in bulk or merged from a spreadsheet",
		Long: `draftmerge creates Gmail drafts; it never sends mail.

Bulk mode puts every address found in a block of text into the Bcc of one
draft. Merge mode creates one draft per spreadsheet row, filling {column}
tags from the row and falling back to common fields.

Configuration is read from DRAFTMERGE_* environment variables and an
optional .env file.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				fmt.Fprintf(cmd.OutOrStdout(), "draftmerge %s\ncommit: %s\nbuilt: %s\n", info.Version, info.Commit, info.Date)
				return nil
			}

			a, err := setup(envFile)
			if err != nil {
				return err
			}
			defer a.close()

			d, err := a.dispatcher(cmd.Context(), terminalPrompt(cmd.InOrStdin(), cmd.OutOrStdout()))
			if err != nil {
				return err
			}

			p := tea.NewProgram(ui.New(d, a.logger), tea.WithAltScreen(), tea.WithMouseCellMotion())
			if _, err := p.Run(); err != nil {
				return fmt.Errorf("running ui: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&showVersion, "version", "v", false, "Print version information")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Optional dotenv file")

	cmd.AddCommand(
		newBulkCmd(&envFile),
		newMergeCmd(&envFile),
		newPreviewCmd(),
		newLogoutCmd(&envFile),
	)

	return cmd
}

func setup(envFile string) (*app, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.LogFile, cfg.LogLevel, cfg.Development)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, logger: logger}, nil
}

func (a *app) close() {
	_ = a.logger.Sync()
}

func (a *app) authManager() (*auth.Manager, error) {
	return auth.New(a.cfg.CredentialsFile, a.cfg.TokenFile)
}

// dispatcher authorizes against Gmail and returns a Dispatcher backed by the
// Gmail client. prompt runs the consent flow when no token is cached; with a
// nil prompt an uncached token is an error.
func (a *app) dispatcher(ctx context.Context, prompt auth.Prompt) (*dispatch.Dispatcher, error) {
	m, err := a.authManager()
	if err != nil {
		return nil, err
	}
	ts, err := m.TokenSource(ctx, prompt)
	if errors.Is(err, auth.ErrNotAuthorized) && prompt == nil {
		return nil, fmt.Errorf("%w: stdin carries the input, so the consent code cannot be read; run draftmerge once interactively or pass --input FILE", err)
	}
	if err != nil {
		return nil, fmt.Errorf("authorizing: %w", err)
	}

	client, err := gmail.NewClient(ctx, a.cfg.GmailUser, option.WithTokenSource(ts))
	if err != nil {
		return nil, err
	}

	return dispatch.New(client,
		dispatch.WithDelay(a.cfg.RowDelay),
		dispatch.WithLogger(a.logger),
	), nil
}

func terminalPrompt(in io.Reader, out io.Writer) auth.Prompt {
	return func(authURL string) (string, error) {
		fmt.Fprintf(out, "Open this URL in a browser and allow access:\n\n  %s\n\nPaste the code or the full redirect URL: ", authURL)

		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		return strings.TrimSpace(line), nil
	}
}
