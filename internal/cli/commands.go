package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nconklindev/draftmerge/internal/auth"
	"github.com/nconklindev/draftmerge/internal/config"
	"github.com/nconklindev/draftmerge/internal/dispatch"
	"github.com/nconklindev/draftmerge/internal/extractor"
	"github.com/nconklindev/draftmerge/internal/fields"
	"github.com/nconklindev/draftmerge/internal/sheet"
	"github.com/nconklindev/draftmerge/internal/tags"
	"github.com/nconklindev/draftmerge/internal/types"
)

// message holds the subject and body flags shared by the sending commands.
type message struct {
	subject  string
	body     string
	bodyFile string
}

func (m *message) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&m.subject, "subject", "s", "", "Draft subject")
	cmd.Flags().StringVarP(&m.body, "body", "b", "", "Draft body")
	cmd.Flags().StringVar(&m.bodyFile, "body-file", "", "Read the draft body from a file")
	cmd.MarkFlagsMutuallyExclusive("body", "body-file")
}

func (m *message) resolveBody() (string, error) {
	if m.bodyFile == "" {
		return m.body, nil
	}
	data, err := os.ReadFile(m.bodyFile)
	if err != nil {
		return "", fmt.Errorf("reading body file: %w", err)
	}
	return string(data), nil
}

// commonFlags maps one flag per common field. Non-empty flags override
// values seeded from the first row.
type commonFlags map[string]*string

func registerCommon(cmd *cobra.Command) commonFlags {
	flagNames := []string{
		"email", "company", "contact", "project", "url",
		"date1", "date2", "reserve1", "reserve2", "reserve3", "reserve4",
	}

	flags := commonFlags{}
	for i, tag := range fields.CommonNames() {
		flags[tag] = cmd.Flags().String(flagNames[i], "", fmt.Sprintf("Fallback value for {%s}", tag))
	}
	return flags
}

func (f commonFlags) apply(c *types.CommonFields) {
	for _, slot := range fields.Slots(c) {
		if v := f[slot.Name]; v != nil && *v != "" {
			*slot.Value = *v
		}
	}
}

func newBulkCmd(envFile *string) *cobra.Command {
	var (
		msg     message
		input   string
		urlOnly bool
	)

	cmd := &cobra.Command{
		Use:   "bulk",
		Short: "Create one draft with every address found in the input in Bcc",
		Long: `Read free-form text, pick out every email address, de-duplicate them
and create a single draft with all of them in Bcc.

Example: draftmerge bulk --input list.txt --subject "Notice" --body-file notice.txt`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readInput(cmd, input)
			if err != nil {
				return err
			}
			body, err := msg.resolveBody()
			if err != nil {
				return err
			}

			set := extractor.Extract(text)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "found %d addresses (%d unique, %d duplicates)\n", set.TotalFound, len(set.UniqueEmails), set.DuplicateCount)

			if urlOnly {
				fmt.Fprintln(out, extractor.ComposeURL(set.UniqueEmails, msg.subject, body))
				return nil
			}
			if err := dispatch.ValidateBulk(set.UniqueEmails, msg.subject); err != nil {
				return err
			}

			a, err := setup(*envFile)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			// Stdin was drained for addresses and cannot answer the consent prompt.
			var prompt auth.Prompt
			if !isStdin(input) {
				prompt = terminalPrompt(cmd.InOrStdin(), out)
			}
			d, err := a.dispatcher(ctx, prompt)
			if err != nil {
				return err
			}
			return stream(out, func(p chan<- types.Progress) (*types.RunLog, error) {
				return d.Bulk(ctx, set.UniqueEmails, msg.subject, body, p)
			})
		},
	}

	msg.register(cmd)
	cmd.Flags().StringVarP(&input, "input", "i", "-", "File with text containing addresses, - for stdin")
	cmd.Flags().BoolVar(&urlOnly, "url-only", false, "Print a Gmail compose link instead of creating a draft")

	return cmd
}

func newMergeCmd(envFile *string) *cobra.Command {
	var (
		msg   message
		file  string
		delay time.Duration
	)

	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Create one personalized draft per spreadsheet row",
		Long: `Read a CSV or XLSX file whose first row names the columns and create
one draft per row. {column} tags in the subject and body are replaced by the
row's value, then by the matching common field, then by nothing.

Example: draftmerge merge --file list.xlsx --subject "{会社名} 御中" --body-file body.txt --company ACME`,
		Args: cobra.NoArgs,
	}

	msg.register(cmd)
	common := registerCommon(cmd)
	cmd.Flags().StringVarP(&file, "file", "f", "", "CSV or XLSX file to merge")
	cmd.Flags().DurationVar(&delay, "delay", dispatch.DefaultDelay, "Pause between rows, overrides DRAFTMERGE_ROW_DELAY")
	_ = cmd.MarkFlagRequired("file")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		table, c, err := loadMerge(file, common)
		if err != nil {
			return err
		}
		body, err := msg.resolveBody()
		if err != nil {
			return err
		}

		req := dispatch.MergeRequest{
			Rows:    table.Rows,
			Columns: table.Columns,
			Subject: msg.subject,
			Body:    body,
			Common:  c,
		}
		if err := dispatch.ValidateMerge(req); err != nil {
			return err
		}

		a, err := setup(*envFile)
		if err != nil {
			return err
		}
		defer a.close()

		if cmd.Flags().Changed("delay") {
			if delay < 0 {
				return fmt.Errorf("%w: --delay must not be negative", config.ErrInvalid)
			}
			a.cfg.RowDelay = delay
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		out := cmd.OutOrStdout()
		d, err := a.dispatcher(ctx, terminalPrompt(cmd.InOrStdin(), out))
		if err != nil {
			return err
		}
		return stream(out, func(p chan<- types.Progress) (*types.RunLog, error) {
			return d.Merge(ctx, req, p)
		})
	}

	return cmd
}

func newPreviewCmd() *cobra.Command {
	var (
		msg  message
		file string
	)

	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Show the first row's draft without creating anything",
		Args:  cobra.NoArgs,
	}

	msg.register(cmd)
	common := registerCommon(cmd)
	cmd.Flags().StringVarP(&file, "file", "f", "", "CSV or XLSX file to merge")
	_ = cmd.MarkFlagRequired("file")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		table, c, err := loadMerge(file, common)
		if err != nil {
			return err
		}
		body, err := msg.resolveBody()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		switch col, ok := resolveColumn(table); {
		case ok:
			fmt.Fprintf(out, "address column: %s\n", col)
		default:
			fmt.Fprintln(out, "address column: none found")
			if cols := sheet.DetectAddressColumns(table); len(cols) > 0 {
				fmt.Fprintf(out, "hint: column %q holds addresses; rename it to Email\n", cols[0])
			}
		}
		fmt.Fprintf(out, "rows: %d\n\n", len(table.Rows))

		subject, rendered := tags.Preview(msg.subject, body, table, c)
		fmt.Fprintf(out, "Subject: %s\n\n%s\n", subject.Text, rendered.Text)

		if missing := tags.Unresolved(subject, rendered); len(missing) > 0 {
			fmt.Fprintf(out, "\nwarning: undefined tags: {%s}\n", strings.Join(missing, ", "))
		}
		return nil
	}

	return cmd
}

func newLogoutCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke and delete the cached Gmail token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(*envFile)
			if err != nil {
				return err
			}
			defer a.close()

			m, err := a.authManager()
			if err != nil {
				return err
			}
			if err := m.Logout(cmd.Context()); err != nil {
				a.logger.Warn("token revocation failed")
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "logged out")
			return nil
		},
	}
}

func loadMerge(file string, common commonFlags) (*types.Table, types.CommonFields, error) {
	table, err := sheet.ReadFile(file)
	if err != nil {
		return nil, types.CommonFields{}, err
	}

	var c types.CommonFields
	if len(table.Rows) > 0 {
		c = fields.Seed(c, table.Rows[0], table.Columns)
	}
	common.apply(&c)
	return table, c, nil
}

func resolveColumn(table *types.Table) (string, bool) {
	if len(table.Rows) == 0 {
		return "", false
	}
	return fields.ResolveAddressColumn(table.Rows[0], table.Columns)
}

func isStdin(path string) bool {
	return path == "" || path == "-"
}

func readInput(cmd *cobra.Command, path string) (string, error) {
	if isStdin(path) {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading input: %w", err)
	}
	return string(data), nil
}

// stream runs fn and prints each new log line as progress arrives.
func stream(out io.Writer, fn func(chan<- types.Progress) (*types.RunLog, error)) error {
	progress := make(chan types.Progress, 256)
	done := make(chan struct{})

	go func() {
		defer close(done)
		var last string
		for p := range progress {
			if p.Line != "" && p.Line != last {
				fmt.Fprintln(out, p.Line)
				last = p.Line
			}
		}
	}()

	log, err := fn(progress)
	close(progress)
	<-done

	if err != nil {
		return err
	}
	if log != nil && log.Failed > 0 {
		return fmt.Errorf("%d of %d drafts failed", log.Failed, log.Total)
	}
	return nil
}
