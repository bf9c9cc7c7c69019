package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshsymonds/convseed/internal/circuit"
)

func openTest(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(context.Background(), filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestRecordAndSummarize(t *testing.T) {
	ctx := context.Background()
	l := openTest(t)
	start := time.UnixMilli(1_700_000_000_000)

	require.NoError(t, l.BeginRun(ctx, "run-1", "circuit.example.com", start))
	require.NoError(t, l.Conversations(ctx, "run-1", []circuit.Conversation{
		{ID: "c1", Kind: circuit.KindOpen, Topic: "Open 1", Participants: []circuit.UserID{"u1", "u2"}},
		{ID: "c2", Kind: circuit.KindGroup, Participants: []circuit.UserID{"u1", "u2", "u3"}},
	}))
	items := []circuit.Item{
		{ID: "p1", ConvID: "c1"},
		{ID: "p2", ConvID: "c2", Attachments: []string{"f1"}},
		{ID: "r1", ConvID: "c1", ParentID: "p1"},
	}
	require.NoError(t, l.Items(ctx, "run-1", items))
	require.NoError(t, l.Reactions(ctx, "run-1", "like", items[:2]))
	require.NoError(t, l.Reactions(ctx, "run-1", "flag", items[2:]))

	sum, err := l.Summary(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, sum.Status)
	assert.Nil(t, sum.FinishedAt)

	require.NoError(t, l.EndRun(ctx, "run-1", start.Add(time.Minute), nil))
	sum, err = l.Summary(ctx, "run-1")
	require.NoError(t, err)
	require.NotNil(t, sum.FinishedAt)
	assert.True(t, sum.FinishedAt.Equal(start.Add(time.Minute)))
	assert.True(t, sum.StartedAt.Equal(start))
	sum.StartedAt, sum.FinishedAt = time.Time{}, nil
	assert.Equal(t, RunSummary{
		ID:            "run-1",
		Domain:        "circuit.example.com",
		Status:        StatusSucceeded,
		Conversations: 2,
		Posts:         2,
		Replies:       1,
		Likes:         2,
		Flags:         1,
	}, sum)
}

func TestEndRunFailure(t *testing.T) {
	ctx := context.Background()
	l := openTest(t)
	require.NoError(t, l.BeginRun(ctx, "run-1", "d", time.Now()))
	require.NoError(t, l.EndRun(ctx, "run-1", time.Now(), errors.New("phase posts: boom")))

	sum, err := l.Summary(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, sum.Status)
	assert.Equal(t, "phase posts: boom", sum.Error)
}

func TestUnknownRun(t *testing.T) {
	ctx := context.Background()
	l := openTest(t)
	_, err := l.Summary(ctx, "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
	assert.ErrorIs(t, l.EndRun(ctx, "missing", time.Now(), nil), ErrRunNotFound)
	assert.Error(t, l.Conversations(ctx, "missing", []circuit.Conversation{{ID: "c"}}), "foreign key")
}

func TestListRunsNewestFirst(t *testing.T) {
	ctx := context.Background()
	l := openTest(t)
	base := time.UnixMilli(1_700_000_000_000)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, l.BeginRun(ctx, id, "d", base.Add(time.Duration(i)*time.Hour)))
	}

	runs, err := l.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, []string{"c", "b", "a"}, []string{runs[0].ID, runs[1].ID, runs[2].ID})

	runs, err = l.ListRuns(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestInMemory(t *testing.T) {
	l, err := Open(context.Background(), "")
	require.NoError(t, err)
	defer func() { _ = l.Close() }()
	runs, err := l.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}
