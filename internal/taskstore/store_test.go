package taskstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(t *testing.T, opts ...Option) (*FileStore, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)}
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	s, err := Open(filepath.Join(t.TempDir(), "store", "tasks.json"), opts...)
	require.NoError(t, err)
	return s, clock
}

func TestOpenCreatesEmptyStore(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	require.FileExists(t, s.Path())

	tasks, err := s.List(t.Context(), Filter{})
	require.NoError(t, err)
	require.Empty(t, tasks)
}

func TestPullNewIsIdempotent(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	ctx := t.Context()

	inserted, err := s.PullNew(ctx, []Candidate{{ID: "1", DisplayName: "One"}, {ID: "2", DisplayName: "Two"}})
	require.NoError(t, err)
	require.Len(t, inserted, 2)

	inserted, err = s.PullNew(ctx, []Candidate{{ID: "2"}, {ID: "3", DisplayName: "Three"}, {ID: "3"}, {ID: "  "}})
	require.NoError(t, err)
	require.Len(t, inserted, 1)
	require.Equal(t, "3", inserted[0].ID)

	all, err := s.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	for _, task := range all {
		require.Equal(t, Unprocessed, task.Status)
	}
}

func TestPullNewKeepsOriginalDetail(t *testing.T) {
	t.Parallel()

	s, clock := newTestStore(t)
	ctx := t.Context()

	_, err := s.PullNew(ctx, []Candidate{{ID: "42", DisplayName: "Game", Detail: "X"}})
	require.NoError(t, err)
	clock.Advance(time.Hour)
	inserted, err := s.PullNew(ctx, []Candidate{{ID: "42", DisplayName: "Other", Detail: "Y"}})
	require.NoError(t, err)
	require.Empty(t, inserted)

	task, err := s.Get(ctx, "42")
	require.NoError(t, err)
	require.Equal(t, "X", task.Detail)
	require.Equal(t, "Game", task.DisplayName)
	require.Equal(t, Unprocessed, task.Status)
}

func TestListUnprocessedKeepsInsertionOrder(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	ctx := t.Context()

	_, err := s.PullNew(ctx, []Candidate{{ID: "c"}, {ID: "a"}, {ID: "b"}, {ID: "d"}})
	require.NoError(t, err)
	_, err = s.Transition(ctx, "a", Update{Status: Processing})
	require.NoError(t, err)

	tasks, err := s.ListUnprocessed(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, []string{"c", "b"}, ids(tasks))

	tasks, err = s.ListUnprocessed(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"c", "b", "d"}, ids(tasks))
}

func TestTransitionCompletedWithoutArtifactUsesSentinel(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	ctx := t.Context()
	_, err := s.PullNew(ctx, []Candidate{{ID: "1"}})
	require.NoError(t, err)
	_, err = s.Transition(ctx, "1", Update{Status: Processing})
	require.NoError(t, err)

	task, err := s.Transition(ctx, "1", Update{Status: Completed})
	require.NoError(t, err)
	require.Equal(t, NoArtifactFound, task.ArtifactPath)
	require.NotEmpty(t, task.ArtifactPath)
	require.False(t, task.HasArtifact())

	stored, err := s.Get(ctx, "1")
	require.NoError(t, err)
	require.Equal(t, NoArtifactFound, stored.ArtifactPath)
}

func TestTransitionErrorRequiresDetail(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	ctx := t.Context()
	_, err := s.PullNew(ctx, []Candidate{{ID: "1"}})
	require.NoError(t, err)
	_, err = s.Transition(ctx, "1", Update{Status: Processing})
	require.NoError(t, err)

	_, err = s.Transition(ctx, "1", Update{Status: Error, ErrorDetail: "   "})
	require.ErrorIs(t, err, ErrInvalidTransition)

	task, err := s.Get(ctx, "1")
	require.NoError(t, err)
	require.Equal(t, Processing, task.Status)
}

func TestTransitionRejectsInvalidMoves(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	ctx := t.Context()
	_, err := s.PullNew(ctx, []Candidate{{ID: "1"}})
	require.NoError(t, err)

	_, err = s.Transition(ctx, "1", Update{Status: Completed, ArtifactPath: "/x.usmap"})
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = s.Transition(ctx, "missing", Update{Status: Processing})
	require.ErrorIs(t, err, ErrNotFound)

	_, err = s.Transition(ctx, "1", Update{Status: Processing})
	require.NoError(t, err)
	_, err = s.Transition(ctx, "1", Update{Status: Completed, ArtifactPath: "/x.usmap"})
	require.NoError(t, err)
	_, err = s.Transition(ctx, "1", Update{Status: Error, ErrorDetail: "late"})
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestLastUpdatedStrictlyIncreases(t *testing.T) {
	t.Parallel()

	// the clock never moves
	s, _ := newTestStore(t)
	ctx := t.Context()
	_, err := s.PullNew(ctx, []Candidate{{ID: "1"}})
	require.NoError(t, err)
	created, err := s.Get(ctx, "1")
	require.NoError(t, err)

	processing, err := s.Transition(ctx, "1", Update{Status: Processing})
	require.NoError(t, err)
	require.True(t, processing.LastUpdated.After(created.LastUpdated))

	done, err := s.Transition(ctx, "1", Update{Status: Error, ErrorDetail: "target process crashed"})
	require.NoError(t, err)
	require.True(t, done.LastUpdated.After(processing.LastUpdated))

	stored, err := s.Get(ctx, "1")
	require.NoError(t, err)
	require.True(t, stored.LastUpdated.Equal(done.LastUpdated))
}

func TestErroredTaskIsNotPickedAgain(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	ctx := t.Context()
	_, err := s.PullNew(ctx, []Candidate{{ID: "7"}})
	require.NoError(t, err)

	batch, err := s.ListUnprocessed(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, []string{"7"}, ids(batch))

	_, err = s.Transition(ctx, "7", Update{Status: Processing})
	require.NoError(t, err)
	_, err = s.Transition(ctx, "7", Update{Status: Error, ErrorDetail: "target process crashed"})
	require.NoError(t, err)

	batch, err = s.ListUnprocessed(ctx, 5)
	require.NoError(t, err)
	require.Empty(t, batch)
}

func TestClaimAllowsOneProcessingTask(t *testing.T) {
	t.Parallel()

	s, clock := newTestStore(t)
	ctx := t.Context()
	_, err := s.PullNew(ctx, []Candidate{{ID: "1"}, {ID: "2"}})
	require.NoError(t, err)

	holder := Holder{PID: 100, StartToken: 5, Host: "rig"}
	lease := NewLease(holder, clock.Now(), time.Minute)
	task, err := s.Claim(ctx, "1", lease)
	require.NoError(t, err)
	require.Equal(t, Processing, task.Status)
	require.NotNil(t, task.Lease)
	require.Equal(t, lease.ID, task.Lease.ID)

	_, err = s.Claim(ctx, "2", NewLease(holder, clock.Now(), time.Minute))
	require.ErrorIs(t, err, ErrBusy)

	_, err = s.Transition(ctx, "1", Update{Status: Completed, ArtifactPath: "/a.usmap", LeaseID: lease.ID})
	require.NoError(t, err)
	task, err = s.Get(ctx, "1")
	require.NoError(t, err)
	require.Nil(t, task.Lease)

	_, err = s.Claim(ctx, "2", NewLease(holder, clock.Now(), time.Minute))
	require.NoError(t, err)
}

func TestTransitionWithStaleLeaseFails(t *testing.T) {
	t.Parallel()

	s, clock := newTestStore(t)
	ctx := t.Context()
	_, err := s.PullNew(ctx, []Candidate{{ID: "1"}})
	require.NoError(t, err)
	_, err = s.Claim(ctx, "1", NewLease(Holder{PID: 1}, clock.Now(), time.Minute))
	require.NoError(t, err)

	_, err = s.Transition(ctx, "1", Update{Status: Completed, LeaseID: "someone-else"})
	require.ErrorIs(t, err, ErrLeaseLost)
}

func TestRenewLease(t *testing.T) {
	t.Parallel()

	s, clock := newTestStore(t)
	ctx := t.Context()
	_, err := s.PullNew(ctx, []Candidate{{ID: "1"}})
	require.NoError(t, err)
	lease := NewLease(Holder{PID: 1}, clock.Now(), time.Minute)
	claimed, err := s.Claim(ctx, "1", lease)
	require.NoError(t, err)

	later := clock.Now().Add(10 * time.Minute)
	renewed, err := s.RenewLease(ctx, "1", lease.ID, later)
	require.NoError(t, err)
	require.True(t, renewed.Lease.ExpiresAt.Equal(later))
	require.True(t, renewed.LastUpdated.Equal(claimed.LastUpdated))

	_, err = s.RenewLease(ctx, "1", "other", later)
	require.ErrorIs(t, err, ErrLeaseLost)
}

func TestRecoverExpired(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		policy     RecoveryPolicy
		alive      bool
		advance    time.Duration
		wantStatus Status
		wantDetail string
	}{
		{name: "error policy", policy: RecoverAsError, advance: 2 * time.Minute, wantStatus: Error, wantDetail: LeaseExpiredDetail},
		{name: "requeue policy", policy: RecoverRequeue, advance: 2 * time.Minute, wantStatus: Unprocessed},
		{name: "lease still valid", policy: RecoverAsError, advance: 30 * time.Second, wantStatus: Processing},
		{name: "holder alive", policy: RecoverAsError, alive: true, advance: 2 * time.Minute, wantStatus: Processing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s, clock := newTestStore(t)
			ctx := t.Context()
			_, err := s.PullNew(ctx, []Candidate{{ID: "1"}})
			require.NoError(t, err)
			_, err = s.Claim(ctx, "1", NewLease(Holder{PID: 99}, clock.Now(), time.Minute))
			require.NoError(t, err)
			clock.Advance(tt.advance)

			_, err = s.RecoverExpired(ctx, RecoverOptions{
				Policy: tt.policy,
				Alive:  func(Lease) bool { return tt.alive },
			})
			require.NoError(t, err)

			task, err := s.Get(ctx, "1")
			require.NoError(t, err)
			require.Equal(t, tt.wantStatus, task.Status)
			require.Equal(t, tt.wantDetail, task.ErrorDetail)
			if tt.wantStatus != Processing {
				require.Nil(t, task.Lease)
			}
		})
	}
}

func TestRecoverExpiredAgesOutLeaselessTasks(t *testing.T) {
	t.Parallel()

	s, clock := newTestStore(t)
	ctx := t.Context()
	_, err := s.PullNew(ctx, []Candidate{{ID: "1"}})
	require.NoError(t, err)
	_, err = s.Transition(ctx, "1", Update{Status: Processing})
	require.NoError(t, err)

	recovered, err := s.RecoverExpired(ctx, RecoverOptions{TTL: time.Hour})
	require.NoError(t, err)
	require.Empty(t, recovered)

	clock.Advance(time.Hour)
	recovered, err = s.RecoverExpired(ctx, RecoverOptions{TTL: time.Hour})
	require.NoError(t, err)
	require.Len(t, recovered, 1)
	require.Equal(t, Error, recovered[0].Status)
}

func TestRequeue(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	ctx := t.Context()
	_, err := s.PullNew(ctx, []Candidate{{ID: "1"}, {ID: "2"}})
	require.NoError(t, err)
	_, err = s.Transition(ctx, "1", Update{Status: Processing})
	require.NoError(t, err)
	_, err = s.Transition(ctx, "1", Update{Status: Error, ErrorDetail: "injection timed out"})
	require.NoError(t, err)

	task, err := s.Requeue(ctx, "1", "operator")
	require.NoError(t, err)
	require.Equal(t, Unprocessed, task.Status)
	require.Empty(t, task.ErrorDetail)

	_, err = s.Requeue(ctx, "2", "operator")
	require.ErrorIs(t, err, ErrInvalidTransition)
	_, err = s.Requeue(ctx, "nope", "operator")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestObserversReceiveEvents(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		events []Event
	)
	observer := ObserverFunc(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
	})
	s, _ := newTestStore(t, WithObserver(observer))
	ctx := t.Context()

	_, err := s.PullNew(ctx, []Candidate{{ID: "1", DisplayName: "One"}})
	require.NoError(t, err)
	_, err = s.PullNew(ctx, []Candidate{{ID: "1"}})
	require.NoError(t, err)
	_, err = s.Transition(ctx, "1", Update{Status: Processing})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 2)
	require.Equal(t, EventNewTask, events[0].Kind)
	require.Equal(t, "One", events[0].Task.DisplayName)
	require.Equal(t, EventStatusChange, events[1].Kind)
	require.Equal(t, Unprocessed, events[1].From)
	require.Equal(t, Processing, events[1].To)
}

func TestObserverMayReadStore(t *testing.T) {
	t.Parallel()

	var s *FileStore
	var seen Status
	s, _ = newTestStore(t, WithObserver(ObserverFunc(func(e Event) {
		task, err := s.Get(context.Background(), e.Task.ID)
		if err == nil {
			seen = task.Status
		}
	})))

	_, err := s.PullNew(t.Context(), []Candidate{{ID: "1"}})
	require.NoError(t, err)
	require.Equal(t, Unprocessed, seen)
}

func TestConcurrentWritersDoNotLoseUpdates(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tasks.json")
	first, err := Open(path)
	require.NoError(t, err)
	second, err := Open(path)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := range 20 {
		store := first
		if i%2 == 1 {
			store = second
		}
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := store.PullNew(context.Background(), []Candidate{{ID: id}})
			errs <- err
		}(string(rune('a' + i)))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	tasks, err := first.List(t.Context(), Filter{})
	require.NoError(t, err)
	require.Len(t, tasks, 20)
}

func TestUnwritableStoreKeepsPreviousState(t *testing.T) {
	t.Parallel()

	if os.Geteuid() == 0 {
		t.Skip("permission checks do not apply to root")
	}
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "tasks.json"))
	require.NoError(t, err)
	_, err = s.PullNew(t.Context(), []Candidate{{ID: "1"}})
	require.NoError(t, err)

	require.NoError(t, os.Chmod(dir, 0o500))
	t.Cleanup(func() { _ = os.Chmod(dir, 0o700) })

	_, err = s.PullNew(t.Context(), []Candidate{{ID: "2"}})
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrStoreUnwritable) || errors.Is(err, os.ErrPermission), err)

	require.NoError(t, os.Chmod(dir, 0o700))
	tasks, err := s.List(t.Context(), Filter{})
	require.NoError(t, err)
	require.Equal(t, []string{"1"}, ids(tasks))
}

func TestCorruptStoreIsReported(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tasks.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	s, err := Open(path)
	require.NoError(t, err)

	_, err = s.List(t.Context(), Filter{})
	require.ErrorContains(t, err, "decode task store")
}

func TestDefaultPathIsProfileScoped(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	path, err := DefaultPath("team/a")
	require.NoError(t, err)
	require.Equal(t, "tasks.json", filepath.Base(path))
	require.Equal(t, "team_a", filepath.Base(filepath.Dir(path)))
	require.Contains(t, path, dir)
}

func ids(tasks []Task) []string {
	out := make([]string, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.ID)
	}
	return out
}
