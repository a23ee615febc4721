package dispatch

//go:generate mockgen -source=dispatch.go -destination=../mocks/mock_draft_creator.go -package=mocks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nconklindev/draftmerge/internal/fields"
	"github.com/nconklindev/draftmerge/internal/tags"
	"github.com/nconklindev/draftmerge/internal/types"
)

// DefaultDelay is the pause between two merge rows.
const DefaultDelay = time.Second

var (
	ErrNoRecipients    = errors.New("no recipients")
	ErrNoSubject       = errors.New("subject is empty")
	ErrNoRows          = errors.New("no rows to merge")
	ErrNoAddressColumn = errors.New("no address column found")
	ErrMissingAddress  = errors.New("address is empty")
)

// DraftCreator creates one draft in the operator's mailbox.
type DraftCreator interface {
	CreateDraft(ctx context.Context, draft types.Draft) error
}

type Option func(*Dispatcher)

func WithDelay(d time.Duration) Option {
	return func(x *Dispatcher) { x.delay = d }
}

func WithLogger(l *zap.Logger) Option {
	return func(x *Dispatcher) { x.logger = l }
}

// WithSleep replaces the pacing wait, mainly for tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(x *Dispatcher) { x.sleep = fn }
}

// Dispatcher runs bulk and merge passes against a DraftCreator. Rows are
// processed strictly one after another.
type Dispatcher struct {
	creator DraftCreator
	delay   time.Duration
	sleep   func(ctx context.Context, d time.Duration) error
	logger  *zap.Logger
}

func New(creator DraftCreator, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		creator: creator,
		delay:   DefaultDelay,
		sleep:   sleepContext,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

type MergeRequest struct {
	Rows    []types.Row
	Columns []string
	Subject string
	Body    string
	Common  types.CommonFields
}

// ValidateBulk checks a bulk request before anything is dispatched.
func ValidateBulk(addresses []string, subject string) error {
	if len(addresses) == 0 {
		return errors.Join(types.ErrValidation, ErrNoRecipients)
	}
	if subject == "" {
		return errors.Join(types.ErrValidation, ErrNoSubject)
	}
	return nil
}

// ValidateMerge checks a merge request before anything is dispatched.
func ValidateMerge(req MergeRequest) error {
	if len(req.Rows) == 0 {
		return errors.Join(types.ErrValidation, ErrNoRows)
	}
	if req.Subject == "" {
		return errors.Join(types.ErrValidation, ErrNoSubject)
	}
	return nil
}

// Bulk creates a single draft with every address in Bcc. Subject and body are
// sent literally. A failure here fails the whole run.
func (d *Dispatcher) Bulk(ctx context.Context, addresses []string, subject, body string, progress chan<- types.Progress) (*types.RunLog, error) {
	if err := ValidateBulk(addresses, subject); err != nil {
		return nil, err
	}

	r := d.start(types.ModeBulk, 1, progress)
	r.logf("creating draft (bcc: %d recipients)...", len(addresses))

	err := d.creator.CreateDraft(ctx, types.Draft{
		Bcc:     addresses,
		Subject: subject,
		Body:    body,
	})
	if err != nil {
		err = errors.Join(types.ErrTransport, err)
		r.logf("error: %s", message(err))
		r.fail(-1, "", types.KindTransport, err)
		r.logger.Error("bulk draft failed", zap.Int("recipients", len(addresses)), zap.Error(err))
		r.finish(types.StatusError)
		return r.log, err
	}

	r.log.Succeeded++
	r.log.Current = 1
	r.logf("success: draft created, check your drafts folder")
	r.logger.Info("bulk draft created", zap.Int("recipients", len(addresses)))
	r.finish(types.StatusCompleted)
	return r.log, nil
}

// Merge creates one personalized draft per row. A row without an address is
// skipped and a rejected row is recorded; neither stops the run. Only a
// missing address column or cancellation ends it early.
func (d *Dispatcher) Merge(ctx context.Context, req MergeRequest, progress chan<- types.Progress) (*types.RunLog, error) {
	if err := ValidateMerge(req); err != nil {
		return nil, err
	}

	total := len(req.Rows)
	r := d.start(types.ModeMerge, total, progress)
	r.logf("starting merge run (%d rows)...", total)

	col, ok := fields.ResolveAddressColumn(req.Rows[0], req.Columns)
	if !ok {
		r.logf("error: no address column found, name one of the columns Email, E-mail, mail or メールアドレス")
		r.logger.Error("no address column", zap.Strings("columns", req.Columns))
		r.finish(types.StatusError)
		return r.log, errors.Join(types.ErrIngestion, ErrNoAddressColumn)
	}
	r.logf("address column detected: %q", col)

	var primary []types.TagResolution
	for i, row := range req.Rows {
		if err := ctx.Err(); err != nil {
			return d.cancel(r, err)
		}

		value, _ := row.Get(col)
		addr := strings.TrimSpace(value)

		if addr == "" {
			r.logf("[row %d] skipped: address is empty", i+1)
			r.fail(i, "", types.KindRow, errors.Join(types.ErrRowFailed, ErrMissingAddress))
			r.logger.Warn("row skipped", zap.Int("row", i+1))
		} else {
			subject := tags.Resolve(req.Subject, row, req.Common, i == 0)
			body := tags.Resolve(req.Body, row, req.Common, i == 0)
			if i == 0 {
				primary = []types.TagResolution{subject, body}
			}

			err := d.creator.CreateDraft(ctx, types.Draft{
				To:      addr,
				Subject: subject.Text,
				Body:    body.Text,
			})
			if err != nil {
				r.logf("[%d/%d] error (%s): %s", i+1, total, addr, message(err))
				r.fail(i, addr, types.KindRow, errors.Join(types.ErrRowFailed, err))
				r.logger.Warn("draft failed", zap.Int("row", i+1), zap.String("to", addr), zap.Error(err))
			} else {
				r.log.Succeeded++
				r.logf("[%d/%d] created: %s", i+1, total, addr)
				r.logger.Info("draft created", zap.Int("row", i+1), zap.String("to", addr))
			}
		}

		r.log.Current = i + 1
		r.report()

		if i < total-1 {
			if err := d.sleep(ctx, d.delay); err != nil {
				return d.cancel(r, err)
			}
		}
	}

	if unresolved := tags.Unresolved(primary...); len(unresolved) > 0 {
		r.log.Unresolved = unresolved
		r.logf("warning: undefined tags: {%s}", strings.Join(unresolved, ", "))
	}
	r.logf("done: %d succeeded / %d failed", r.log.Succeeded, r.log.Failed)
	r.logger.Info("merge finished", zap.Int("succeeded", r.log.Succeeded), zap.Int("failed", r.log.Failed))
	r.finish(types.StatusCompleted)

	return r.log, nil
}

func (d *Dispatcher) cancel(r *run, err error) (*types.RunLog, error) {
	r.logf("cancelled after %d of %d rows", r.log.Current, r.log.Total)
	r.logger.Warn("merge cancelled", zap.Int("processed", r.log.Current), zap.Error(err))
	r.finish(types.StatusError)
	return r.log, fmt.Errorf("merge cancelled: %w", err)
}

// run is the state owned by one dispatch pass: its log, progress sink and
// logger. Nothing else writes to it while the pass is in flight.
type run struct {
	log      *types.RunLog
	progress chan<- types.Progress
	logger   *zap.Logger
}

func (d *Dispatcher) start(mode types.Mode, total int, progress chan<- types.Progress) *run {
	id := uuid.NewString()
	r := &run{
		log: &types.RunLog{
			ID:     id,
			Mode:   mode,
			Total:  total,
			Status: types.StatusProcessing,
		},
		progress: progress,
		logger:   d.logger.With(zap.String("run_id", id), zap.String("mode", string(mode))),
	}
	r.logger.Info("run started", zap.Int("total", total))
	r.report()
	return r
}

func (r *run) logf(format string, args ...any) {
	r.log.Lines = append(r.log.Lines, fmt.Sprintf(format, args...))
	r.report()
}

func (r *run) fail(row int, addr string, kind types.Kind, err error) {
	r.log.Failed++
	r.log.Failures = append(r.log.Failures, types.Failure{Row: row, Address: addr, Kind: kind, Err: err})
}

func (r *run) finish(status types.Status) {
	r.log.Status = status
	r.report()
}

// report never blocks; a slow reader drops intermediate updates.
func (r *run) report() {
	if r.progress == nil {
		return
	}
	select {
	case r.progress <- r.log.Progress():
	default:
	}
}

// message returns the innermost human-readable text of a joined error.
func message(err error) string {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		errs := joined.Unwrap()
		return message(errs[len(errs)-1])
	}
	return err.Error()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
