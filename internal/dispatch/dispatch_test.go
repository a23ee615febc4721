package dispatch_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/nconklindev/draftmerge/internal/dispatch"
	"github.com/nconklindev/draftmerge/internal/mocks"
	"github.com/nconklindev/draftmerge/internal/types"
)

type sleepRecorder struct {
	calls []time.Duration
	err   error
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.calls = append(s.calls, d)
	return s.err
}

func newDispatcher(creator dispatch.DraftCreator, s *sleepRecorder) *dispatch.Dispatcher {
	return dispatch.New(creator, dispatch.WithSleep(s.sleep))
}

func TestMerge_SkipsRowWithoutAddress(t *testing.T) {
	creator := mocks.NewMockDraftCreatorForTest(t)
	s := &sleepRecorder{}

	gomock.InOrder(
		creator.EXPECT().CreateDraft(gomock.Any(), types.Draft{To: "a@x.com", Subject: "Hi Ann", Body: "Dear Ann"}).Return(nil),
		creator.EXPECT().CreateDraft(gomock.Any(), types.Draft{To: "c@x.com", Subject: "Hi Cid", Body: "Dear Cid"}).Return(nil),
	)

	log, err := newDispatcher(creator, s).Merge(context.Background(), dispatch.MergeRequest{
		Rows: []types.Row{
			types.NewRow("Email", "a@x.com", "Name", "Ann"),
			types.NewRow("Email", "  ", "Name", "Bob"),
			types.NewRow("Email", "c@x.com", "Name", "Cid"),
		},
		Columns: []string{"Email", "Name"},
		Subject: "Hi {Name}",
		Body:    "Dear {Name}",
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, types.StatusCompleted, log.Status)
	assert.Equal(t, 2, log.Succeeded)
	assert.Equal(t, 1, log.Failed)
	assert.Equal(t, 3, log.Current)
	assert.Equal(t, 3, log.Total)
	assert.NotEmpty(t, log.ID)

	require.Len(t, log.Failures, 1)
	assert.Equal(t, 1, log.Failures[0].Row)
	assert.Equal(t, types.KindRow, log.Failures[0].Kind)
	assert.ErrorIs(t, log.Failures[0].Err, dispatch.ErrMissingAddress)

	assert.Equal(t, []string{
		"starting merge run (3 rows)...",
		`address column detected: "Email"`,
		"[1/3] created: a@x.com",
		"[row 2] skipped: address is empty",
		"[3/3] created: c@x.com",
		"done: 2 succeeded / 1 failed",
	}, log.Lines)

	assert.Equal(t, []time.Duration{dispatch.DefaultDelay, dispatch.DefaultDelay}, s.calls)
}

func TestMerge_CollaboratorFailureDoesNotStopRun(t *testing.T) {
	creator := mocks.NewMockDraftCreatorForTest(t)

	gomock.InOrder(
		creator.EXPECT().CreateDraft(gomock.Any(), gomock.Any()).Return(errors.New("quota exceeded")),
		creator.EXPECT().CreateDraft(gomock.Any(), gomock.Any()).Return(nil),
	)

	log, err := newDispatcher(creator, &sleepRecorder{}).Merge(context.Background(), dispatch.MergeRequest{
		Rows: []types.Row{
			types.NewRow("メールアドレス", "a@x.com"),
			types.NewRow("メールアドレス", "b@x.com"),
		},
		Columns: []string{"メールアドレス"},
		Subject: "Hello",
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, types.StatusCompleted, log.Status)
	assert.Equal(t, 1, log.Succeeded)
	assert.Equal(t, 1, log.Failed)
	assert.Contains(t, log.Lines, "[1/2] error (a@x.com): quota exceeded")
	assert.Contains(t, log.Lines, "[2/2] created: b@x.com")

	require.Len(t, log.Failures, 1)
	assert.Equal(t, "a@x.com", log.Failures[0].Address)
	assert.Equal(t, types.KindRow, types.KindOf(log.Failures[0].Err))
}

func TestMerge_NoAddressColumn(t *testing.T) {
	creator := mocks.NewMockDraftCreatorForTest(t)
	s := &sleepRecorder{}

	log, err := newDispatcher(creator, s).Merge(context.Background(), dispatch.MergeRequest{
		Rows:    []types.Row{types.NewRow("Name", "Ann"), types.NewRow("Name", "Bob")},
		Columns: []string{"Name"},
		Subject: "Hi",
	}, nil)

	require.ErrorIs(t, err, dispatch.ErrNoAddressColumn)
	assert.Equal(t, types.KindIngestion, types.KindOf(err))
	require.NotNil(t, log)
	assert.Equal(t, types.StatusError, log.Status)
	assert.Equal(t, 0, log.Current)
	assert.Len(t, log.Lines, 2)
	assert.Empty(t, s.calls)
}

func TestMerge_Validation(t *testing.T) {
	creator := mocks.NewMockDraftCreatorForTest(t)
	d := newDispatcher(creator, &sleepRecorder{})

	log, err := d.Merge(context.Background(), dispatch.MergeRequest{Subject: "Hi"}, nil)
	require.ErrorIs(t, err, dispatch.ErrNoRows)
	assert.Equal(t, types.KindValidation, types.KindOf(err))
	assert.Nil(t, log)

	log, err = d.Merge(context.Background(), dispatch.MergeRequest{
		Rows:    []types.Row{types.NewRow("Email", "a@x.com")},
		Columns: []string{"Email"},
	}, nil)
	require.ErrorIs(t, err, dispatch.ErrNoSubject)
	assert.Nil(t, log)
}

func TestMerge_UnresolvedTagsFromFirstRowOnly(t *testing.T) {
	creator := mocks.NewMockDraftCreatorForTest(t)
	creator.EXPECT().CreateDraft(gomock.Any(), gomock.Any()).Return(nil).Times(2)

	log, err := newDispatcher(creator, &sleepRecorder{}).Merge(context.Background(), dispatch.MergeRequest{
		Rows: []types.Row{
			types.NewRow("Email", "a@x.com", "Team", "red"),
			types.NewRow("Email", "b@x.com"),
		},
		Columns: []string{"Email", "Team"},
		Subject: "{Greeting} {Team}",
		Body:    "{Sign} {Greeting} {会社名}",
		Common:  types.CommonFields{Company: "ACME"},
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"Greeting", "Sign"}, log.Unresolved)
	assert.Contains(t, log.Lines, "warning: undefined tags: {Greeting, Sign}")
	assert.Equal(t, "done: 2 succeeded / 0 failed", log.Lines[len(log.Lines)-1])
}

func TestMerge_CommonFieldFallback(t *testing.T) {
	creator := mocks.NewMockDraftCreatorForTest(t)
	creator.EXPECT().CreateDraft(gomock.Any(), types.Draft{
		To:      "a@x.com",
		Subject: "ACME / ",
		Body:    "see https://example.com",
	}).Return(nil)

	_, err := newDispatcher(creator, &sleepRecorder{}).Merge(context.Background(), dispatch.MergeRequest{
		Rows:    []types.Row{types.NewRow("Email", "a@x.com", "担当者名", "")},
		Columns: []string{"Email", "担当者名"},
		Subject: "{会社名} / {担当者名}",
		Body:    "see {URL}",
		Common:  types.CommonFields{Company: "ACME", Contact: "ignored", URL: "https://example.com"},
	}, nil)
	require.NoError(t, err)
}

func TestMerge_CancelledDuringPacing(t *testing.T) {
	creator := mocks.NewMockDraftCreatorForTest(t)
	creator.EXPECT().CreateDraft(gomock.Any(), gomock.Any()).Return(nil).Times(1)

	s := &sleepRecorder{err: context.Canceled}
	log, err := newDispatcher(creator, s).Merge(context.Background(), dispatch.MergeRequest{
		Rows: []types.Row{
			types.NewRow("Email", "a@x.com"),
			types.NewRow("Email", "b@x.com"),
		},
		Columns: []string{"Email"},
		Subject: "Hi",
	}, nil)

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, types.StatusError, log.Status)
	assert.Equal(t, 1, log.Current)
	assert.Equal(t, "cancelled after 1 of 2 rows", log.Lines[len(log.Lines)-1])
}

func TestMerge_CancelledBeforeStart(t *testing.T) {
	creator := mocks.NewMockDraftCreatorForTest(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	log, err := newDispatcher(creator, &sleepRecorder{}).Merge(ctx, dispatch.MergeRequest{
		Rows:    []types.Row{types.NewRow("Email", "a@x.com")},
		Columns: []string{"Email"},
		Subject: "Hi",
	}, nil)

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, log.Succeeded)
}

func TestMerge_RealPacingHonoursContext(t *testing.T) {
	creator := mocks.NewMockDraftCreatorForTest(t)
	creator.EXPECT().CreateDraft(gomock.Any(), gomock.Any()).Return(nil).Times(1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := dispatch.New(creator, dispatch.WithDelay(time.Hour)).Merge(ctx, dispatch.MergeRequest{
		Rows:    []types.Row{types.NewRow("Email", "a@x.com"), types.NewRow("Email", "b@x.com")},
		Columns: []string{"Email"},
		Subject: "Hi",
	}, nil)

	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Minute)
}

func TestMerge_ReportsProgress(t *testing.T) {
	creator := mocks.NewMockDraftCreatorForTest(t)
	creator.EXPECT().CreateDraft(gomock.Any(), gomock.Any()).Return(nil).Times(2)

	progress := make(chan types.Progress, 100)
	_, err := newDispatcher(creator, &sleepRecorder{}).Merge(context.Background(), dispatch.MergeRequest{
		Rows:    []types.Row{types.NewRow("Email", "a@x.com"), types.NewRow("Email", "b@x.com")},
		Columns: []string{"Email"},
		Subject: "Hi",
	}, progress)
	require.NoError(t, err)
	close(progress)

	var updates []types.Progress
	for p := range progress {
		updates = append(updates, p)
	}
	require.NotEmpty(t, updates)

	assert.Equal(t, types.StatusProcessing, updates[0].Status)
	assert.Equal(t, 0, updates[0].Current)

	last := updates[len(updates)-1]
	assert.Equal(t, types.StatusCompleted, last.Status)
	assert.Equal(t, 2, last.Current)
	assert.Equal(t, 2, last.Total)

	for i := 1; i < len(updates); i++ {
		assert.GreaterOrEqual(t, updates[i].Current, updates[i-1].Current)
	}
}

func TestBulk(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		creator := mocks.NewMockDraftCreatorForTest(t)
		creator.EXPECT().CreateDraft(gomock.Any(), types.Draft{
			Bcc:     []string{"a@x.com", "b@y.com"},
			Subject: "Hi {Name}",
			Body:    "literal {Name}",
		}).Return(nil)

		log, err := dispatch.New(creator).Bulk(context.Background(), []string{"a@x.com", "b@y.com"}, "Hi {Name}", "literal {Name}", nil)
		require.NoError(t, err)

		assert.Equal(t, types.StatusCompleted, log.Status)
		assert.Equal(t, types.ModeBulk, log.Mode)
		assert.Equal(t, 1, log.Current)
		assert.Equal(t, 1, log.Total)
		assert.Len(t, log.Lines, 2)
		assert.Equal(t, "creating draft (bcc: 2 recipients)...", log.Lines[0])
	})

	t.Run("transport failure is fatal", func(t *testing.T) {
		creator := mocks.NewMockDraftCreatorForTest(t)
		creator.EXPECT().CreateDraft(gomock.Any(), gomock.Any()).Return(errors.New("invalid credentials"))

		log, err := dispatch.New(creator).Bulk(context.Background(), []string{"a@x.com"}, "Hi", "", nil)
		require.Error(t, err)

		assert.Equal(t, types.KindTransport, types.KindOf(err))
		assert.Equal(t, types.StatusError, log.Status)
		assert.Equal(t, "error: invalid credentials", log.Lines[len(log.Lines)-1])
		assert.Len(t, log.Lines, 2)
		assert.Equal(t, 1, log.Failed)
	})

	t.Run("validation", func(t *testing.T) {
		creator := mocks.NewMockDraftCreatorForTest(t)

		_, err := dispatch.New(creator).Bulk(context.Background(), nil, "Hi", "", nil)
		require.ErrorIs(t, err, dispatch.ErrNoRecipients)
		assert.Equal(t, types.KindValidation, types.KindOf(err))

		_, err = dispatch.New(creator).Bulk(context.Background(), []string{"a@x.com"}, "", "", nil)
		require.ErrorIs(t, err, dispatch.ErrNoSubject)
	})
}
