package outbox

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "outbox.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func insert(t *testing.T, s *Store, capturedAt int64, body string) int64 {
	t.Helper()
	id, err := s.Insert(context.Background(), CapturedRecord{
		PackageName:       "com.bcp.innovacxion.yape.movil",
		Title:             "Yape",
		Body:              body,
		CapturedAtEpochMs: capturedAt,
	})
	require.NoError(t, err)
	return id
}

func TestInsert_AlwaysPending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	uid := 10

	id, err := s.Insert(ctx, CapturedRecord{
		PackageName:   "com.bcp.bank.bcp",
		Body:          "Recibiste S/ 10",
		AndroidUserID: &uid,
		Status:        StatusSent,
	})
	require.NoError(t, err)

	rec, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, rec.Status)
	assert.Equal(t, 0, rec.Attempts)
	require.NotNil(t, rec.AndroidUserID)
	assert.Equal(t, 10, *rec.AndroidUserID)
	assert.NotZero(t, rec.CapturedAtEpochMs)
}

func TestPending_CaptureOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	third := insert(t, s, 3000, "c")
	first := insert(t, s, 1000, "a")
	second := insert(t, s, 2000, "b")

	recs, err := s.Pending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, []int64{first, second, third}, []int64{recs[0].ID, recs[1].ID, recs[2].ID})

	limited, err := s.Pending(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestTransition(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := insert(t, s, 1000, "a")

	require.NoError(t, s.Transition(ctx, id, StatusPending, StatusFailed, "http 500"))
	rec, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Equal(t, 1, rec.Attempts)
	assert.Equal(t, "http 500", rec.LastError)

	require.NoError(t, s.Transition(ctx, id, StatusFailed, StatusPending, ""))
	require.NoError(t, s.Transition(ctx, id, StatusPending, StatusSent, ""))

	rec, err = s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusSent, rec.Status)
	assert.Equal(t, 2, rec.Attempts)
}

func TestTransition_SentIsTerminal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := insert(t, s, 1000, "a")
	require.NoError(t, s.Transition(ctx, id, StatusPending, StatusSent, ""))

	for _, to := range []Status{StatusPending, StatusFailed} {
		err := s.Transition(ctx, id, StatusSent, to, "")
		assert.ErrorIs(t, err, ErrInvalidTransition)
	}
	assert.ErrorIs(t, s.Transition(ctx, id, StatusPending, StatusFailed, ""), ErrStaleStatus)
	assert.ErrorIs(t, s.Transition(ctx, id, StatusFailed, StatusPending, ""), ErrStaleStatus)

	rec, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusSent, rec.Status)
}

func TestTransition_NotFound(t *testing.T) {
	s := newTestStore(t)
	assert.ErrorIs(t, s.Transition(context.Background(), 999, StatusPending, StatusSent, ""), ErrNotFound)
}

func TestTransition_ConcurrentOnlyOneWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := insert(t, s, 1000, "a")

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.Transition(ctx, id, StatusPending, StatusSent, "")
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, ErrStaleStatus)
		}
	}
	assert.Equal(t, 1, wins)
}

func TestResetFailed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := insert(t, s, 1000, "a")
	b := insert(t, s, 2000, "b")
	c := insert(t, s, 3000, "c")
	require.NoError(t, s.Transition(ctx, a, StatusPending, StatusFailed, "x"))
	require.NoError(t, s.Transition(ctx, b, StatusPending, StatusSent, ""))
	require.NoError(t, s.Transition(ctx, c, StatusPending, StatusFailed, "y"))

	n, err := s.ResetFailed(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	counts, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[Status]int64{StatusPending: 2, StatusSent: 1, StatusFailed: 0}, counts)

	all, err := s.List(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestTrim_KeepsMostRecentRegardlessOfStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	oldest := insert(t, s, 1000, "a")
	insert(t, s, 2000, "b")
	newest := insert(t, s, 4000, "d")
	mid := insert(t, s, 3000, "c")
	require.NoError(t, s.Transition(ctx, oldest, StatusPending, StatusFailed, ""))

	n, err := s.Trim(ctx, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	recs, err := s.List(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, newest, recs[0].ID)
	assert.Equal(t, mid, recs[1].ID)

	n, err = s.Trim(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestList_FilterByStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := insert(t, s, 1000, "a")
	insert(t, s, 2000, "b")
	require.NoError(t, s.Transition(ctx, a, StatusPending, StatusFailed, "bad"))

	failed, err := s.List(ctx, StatusFailed, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, a, failed[0].ID)
}

func TestMonitoredPackages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pkgs, err := s.MonitoredPackages(ctx)
	require.NoError(t, err)
	assert.Empty(t, pkgs)

	require.NoError(t, s.ReplaceMonitoredPackages(ctx, []string{"pe.plin.wallet", "com.bcp.bank.bcp", "pe.plin.wallet"}))
	pkgs, err = s.MonitoredPackages(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"com.bcp.bank.bcp", "pe.plin.wallet"}, pkgs)

	require.NoError(t, s.ReplaceMonitoredPackages(ctx, []string{"com.bbva.nxt_peru"}))
	pkgs, err = s.MonitoredPackages(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"com.bbva.nxt_peru"}, pkgs)
}

func TestOpen_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "outbox.db")
	ctx := context.Background()

	s, err := Open(ctx, path)
	require.NoError(t, err)
	id := insert(t, s, 1000, "a")
	require.NoError(t, s.Close())

	s, err = Open(ctx, path)
	require.NoError(t, err)
	defer s.Close()
	rec, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "a", rec.Body)
}

func TestRequeueDeliveryFailures_LeavesRejections(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	delivery := insert(t, s, 1000, "a")
	rejected := insert(t, s, 2000, "b")
	plain := insert(t, s, 3000, "c")
	require.NoError(t, s.Fail(ctx, delivery, FailureDelivery, "status 502"))
	require.NoError(t, s.Fail(ctx, rejected, FailureRejected, "promotional"))
	require.NoError(t, s.Transition(ctx, plain, StatusPending, StatusFailed, "x"))

	n, err := s.RequeueDeliveryFailures(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	rec, err := s.Get(ctx, delivery)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, rec.Status)
	assert.Equal(t, FailureNone, rec.FailureKind)
	assert.Equal(t, 1, rec.Attempts)

	rec, err = s.Get(ctx, rejected)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Equal(t, FailureRejected, rec.FailureKind)

	n, err = s.ResetFailed(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	rec, err = s.Get(ctx, rejected)
	require.NoError(t, err)
	assert.Equal(t, FailureNone, rec.FailureKind)
}
