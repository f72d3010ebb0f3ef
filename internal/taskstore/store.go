package taskstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/gofrs/flock"
	"github.com/steamok/usmapctl/internal/config"
	"github.com/steamok/usmapctl/internal/util/atomicfile"
)

const (
	defaultFilePerm = 0o600
	lockRetryDelay  = 50 * time.Millisecond

	rootDirName   = "tasks"
	storeFileName = "tasks.json"
	lockSuffix    = ".lock"

	documentVersion = 1
)

// Store is the task queue contract used by the orchestrator and the CLI.
type Store interface {
	PullNew(ctx context.Context, candidates []Candidate) ([]Task, error)
	ListUnprocessed(ctx context.Context, limit int) ([]Task, error)
	Transition(ctx context.Context, id string, update Update) (Task, error)
	Get(ctx context.Context, id string) (Task, error)
	List(ctx context.Context, filter Filter) ([]Task, error)
	Claim(ctx context.Context, id string, lease Lease) (Task, error)
	RenewLease(ctx context.Context, id, leaseID string, expiresAt time.Time) (Task, error)
	RecoverExpired(ctx context.Context, opts RecoverOptions) ([]Task, error)
	Requeue(ctx context.Context, id, reason string) (Task, error)
}

type document struct {
	Version int    `json:"version"`
	Tasks   []Task `json:"tasks"`
}

func (d *document) index(id string) int {
	for i := range d.Tasks {
		if d.Tasks[i].ID == id {
			return i
		}
	}
	return -1
}

// FileStore keeps the task table in one JSON file. Every mutation reloads
// the file, applies the change and rewrites it atomically while holding both
// an in-process mutex and an exclusive lock on <path>.lock.
type FileStore struct {
	path      string
	mu        sync.Mutex
	lock      *flock.Flock
	now       func() time.Time
	logger    *slog.Logger
	observers []Observer
}

// Option configures a FileStore.
type Option func(*FileStore)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *FileStore) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the store logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *FileStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithObserver registers an observer for task events.
func WithObserver(observer Observer) Option {
	return func(s *FileStore) {
		if observer != nil {
			s.observers = append(s.observers, observer)
		}
	}
}

// DefaultPath returns the profile-scoped store location under the config
// directory.
func DefaultPath(profile string) (string, error) {
	configDir, err := config.GetDefaultConfigPath()
	if err != nil {
		return "", fmt.Errorf("resolve default config path: %w", err)
	}
	return filepath.Join(configDir, rootDirName, sanitizePathComponent(profile), storeFileName), nil
}

// Open returns a store backed by path, creating an empty table when the file
// does not exist yet.
func Open(path string, opts ...Option) (*FileStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("task store path is not configured")
	}
	s := &FileStore{
		path:   path,
		lock:   flock.New(path + lockSuffix),
		now:    time.Now,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := os.MkdirAll(filepath.Dir(path), atomicfile.DefaultDirPerm); err != nil {
		return nil, fmt.Errorf("%w: create store directory: %w", ErrStoreUnwritable, err)
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if err := s.save(&document{Version: documentVersion, Tasks: []Task{}}); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, fmt.Errorf("stat task store: %w", err)
	}
	return s, nil
}

// Path returns the backing file.
func (s *FileStore) Path() string {
	return s.path
}

// Subscribe adds an observer after construction.
func (s *FileStore) Subscribe(observer Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, observer)
}

func (s *FileStore) load() (*document, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &document{Version: documentVersion}, nil
		}
		return nil, fmt.Errorf("read task store: %w", err)
	}
	doc := &document{}
	if len(strings.TrimSpace(string(raw))) == 0 {
		doc.Version = documentVersion
		return doc, nil
	}
	if err := json.Unmarshal(raw, doc); err != nil {
		return nil, fmt.Errorf("decode task store %s: %w", s.path, err)
	}
	return doc, nil
}

func (s *FileStore) save(doc *document) error {
	doc.Version = documentVersion
	if doc.Tasks == nil {
		doc.Tasks = []Task{}
	}
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode task store: %w", err)
	}
	if err := atomicfile.Write(s.path, append(raw, '\n'), defaultFilePerm); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnwritable, err)
	}
	return nil
}

// view runs fn on a freshly loaded document under a shared lock.
func (s *FileStore) view(ctx context.Context, fn func(doc *document) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	locked, err := s.lock.TryRLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("lock task store: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock task store: %s is held elsewhere", s.lock.Path())
	}
	defer s.unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	return fn(doc)
}

// mutate runs fn under the exclusive lock and persists the document when fn
// reports a change. Events are delivered after every lock is released.
func (s *FileStore) mutate(ctx context.Context, fn func(doc *document, now time.Time) (bool, []Event, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	events, observers, err := s.mutateLocked(ctx, fn)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	for _, event := range events {
		for _, observer := range observers {
			observer.Observe(event)
		}
	}
	return nil
}

func (s *FileStore) mutateLocked(
	ctx context.Context,
	fn func(doc *document, now time.Time) (bool, []Event, error),
) ([]Event, []Observer, error) {
	locked, err := s.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, nil, fmt.Errorf("lock task store: %w", err)
	}
	if !locked {
		return nil, nil, fmt.Errorf("lock task store: %s is held elsewhere", s.lock.Path())
	}
	defer s.unlock()

	doc, err := s.load()
	if err != nil {
		return nil, nil, err
	}
	changed, events, err := fn(doc, s.now())
	if err != nil {
		return nil, nil, err
	}
	if !changed {
		return nil, nil, nil
	}
	if err := s.save(doc); err != nil {
		return nil, nil, err
	}
	return events, append([]Observer(nil), s.observers...), nil
}

func (s *FileStore) unlock() {
	if err := s.lock.Unlock(); err != nil {
		s.logger.Warn("unlocking task store failed", slog.String("path", s.lock.Path()), slog.Any("error", err))
	}
}

// PullNew inserts candidates whose id is not yet stored and returns the
// inserted tasks. Existing rows are never touched.
func (s *FileStore) PullNew(ctx context.Context, candidates []Candidate) ([]Task, error) {
	var inserted []Task
	err := s.mutate(ctx, func(doc *document, now time.Time) (bool, []Event, error) {
		inserted = nil
		seen := make(map[string]struct{}, len(doc.Tasks))
		for _, t := range doc.Tasks {
			seen[t.ID] = struct{}{}
		}
		var events []Event
		for _, c := range candidates {
			id := strings.TrimSpace(c.ID)
			if id == "" {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			t := Task{
				ID:          id,
				DisplayName: c.DisplayName,
				Detail:      c.Detail,
				Status:      Unprocessed,
				CreatedAt:   now,
				LastUpdated: now,
			}
			doc.Tasks = append(doc.Tasks, t)
			inserted = append(inserted, t.clone())
			events = append(events, Event{Kind: EventNewTask, Task: t.clone(), To: Unprocessed})
		}
		return len(events) > 0, events, nil
	})
	if err != nil {
		return nil, err
	}
	if len(inserted) > 0 {
		s.logger.Debug("tasks inserted", slog.Int("count", len(inserted)))
	}
	return inserted, nil
}

// ListUnprocessed returns queued tasks in insertion order. A limit of zero
// or less returns all of them.
func (s *FileStore) ListUnprocessed(ctx context.Context, limit int) ([]Task, error) {
	return s.List(ctx, Filter{Statuses: []Status{Unprocessed}, Limit: limit})
}

func (s *FileStore) List(ctx context.Context, filter Filter) ([]Task, error) {
	var out []Task
	err := s.view(ctx, func(doc *document) error {
		for _, t := range doc.Tasks {
			if !filter.matches(t) {
				continue
			}
			out = append(out, t.clone())
			if filter.Limit > 0 && len(out) >= filter.Limit {
				break
			}
		}
		return nil
	})
	return out, err
}

func (s *FileStore) Get(ctx context.Context, id string) (Task, error) {
	var out Task
	err := s.view(ctx, func(doc *document) error {
		i := doc.index(id)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		out = doc.Tasks[i].clone()
		return nil
	})
	return out, err
}

// Transition moves a task to update.Status after validating the lifecycle
// table and the row invariants.
func (s *FileStore) Transition(ctx context.Context, id string, update Update) (Task, error) {
	var out Task
	err := s.mutate(ctx, func(doc *document, now time.Time) (bool, []Event, error) {
		i := doc.index(id)
		if i < 0 {
			return false, nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		prev := doc.Tasks[i]
		if update.Status == Processing {
			if other := processingOther(doc, id); other != "" {
				return false, nil, fmt.Errorf("%w: %s", ErrBusy, other)
			}
		}
		next, err := apply(prev, update, now)
		if err != nil {
			return false, nil, fmt.Errorf("task %s: %w", id, err)
		}
		doc.Tasks[i] = next
		out = next.clone()
		return true, []Event{statusChange(prev, next)}, nil
	})
	if err != nil {
		return Task{}, err
	}
	s.logger.Debug("task transitioned",
		slog.String("task_id", id),
		slog.String("status", string(out.Status)))
	return out, nil
}

// Claim moves an unprocessed task to processing under lease. Only one task
// may be processing at a time.
func (s *FileStore) Claim(ctx context.Context, id string, lease Lease) (Task, error) {
	if strings.TrimSpace(lease.ID) == "" {
		return Task{}, errors.New("lease id is required")
	}
	var out Task
	err := s.mutate(ctx, func(doc *document, now time.Time) (bool, []Event, error) {
		i := doc.index(id)
		if i < 0 {
			return false, nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if other := processingOther(doc, id); other != "" {
			return false, nil, fmt.Errorf("%w: %s", ErrBusy, other)
		}
		prev := doc.Tasks[i]
		next, err := apply(prev, Update{Status: Processing}, now)
		if err != nil {
			return false, nil, fmt.Errorf("claim task %s: %w", id, err)
		}
		l := lease
		next.Lease = &l
		doc.Tasks[i] = next
		out = next.clone()
		return true, []Event{statusChange(prev, next)}, nil
	})
	return out, err
}

// RenewLease extends the lease of a processing task. It fails with
// ErrLeaseLost when the task no longer holds leaseID.
func (s *FileStore) RenewLease(ctx context.Context, id, leaseID string, expiresAt time.Time) (Task, error) {
	var out Task
	err := s.mutate(ctx, func(doc *document, _ time.Time) (bool, []Event, error) {
		i := doc.index(id)
		if i < 0 {
			return false, nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		t := &doc.Tasks[i]
		if t.Status != Processing || t.Lease == nil || t.Lease.ID != leaseID {
			return false, nil, fmt.Errorf("%w: task %s", ErrLeaseLost, id)
		}
		t.Lease.ExpiresAt = expiresAt
		out = t.clone()
		return true, nil, nil
	})
	return out, err
}

// RecoverExpired resolves processing tasks abandoned by a dead holder
// according to opts.Policy and returns the recovered tasks.
func (s *FileStore) RecoverExpired(ctx context.Context, opts RecoverOptions) ([]Task, error) {
	policy, err := ParseRecoveryPolicy(string(opts.Policy))
	if err != nil {
		return nil, err
	}
	var recovered []Task
	err = s.mutate(ctx, func(doc *document, now time.Time) (bool, []Event, error) {
		recovered = nil
		var events []Event
		for i, prev := range doc.Tasks {
			if !opts.abandoned(prev, now) {
				continue
			}
			update := Update{Status: Error, ErrorDetail: LeaseExpiredDetail}
			if policy == RecoverRequeue {
				update = Update{Status: Unprocessed}
			}
			next, err := apply(prev, update, now)
			if err != nil {
				return false, nil, fmt.Errorf("recover task %s: %w", prev.ID, err)
			}
			doc.Tasks[i] = next
			recovered = append(recovered, next.clone())
			events = append(events, statusChange(prev, next))
		}
		return len(events) > 0, events, nil
	})
	if err != nil {
		return nil, err
	}
	for _, t := range recovered {
		s.logger.Warn("recovered abandoned task",
			slog.String("task_id", t.ID),
			slog.String("policy", string(policy)),
			slog.String("status", string(t.Status)))
	}
	return recovered, nil
}

// Requeue is the operator action returning a processing or failed task to
// the queue. Completed tasks stay final.
func (s *FileStore) Requeue(ctx context.Context, id, reason string) (Task, error) {
	var out Task
	err := s.mutate(ctx, func(doc *document, now time.Time) (bool, []Event, error) {
		i := doc.index(id)
		if i < 0 {
			return false, nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		prev := doc.Tasks[i]
		if _, ok := requeueable[prev.Status]; !ok {
			return false, nil, fmt.Errorf("%w: cannot requeue %s task %s", ErrInvalidTransition, prev.Status, id)
		}
		next := prev.clone()
		next.Status = Unprocessed
		next.ArtifactPath = ""
		next.ErrorDetail = ""
		next.Lease = nil
		next.LastUpdated = bump(prev.LastUpdated, now)
		doc.Tasks[i] = next
		out = next.clone()
		return true, []Event{statusChange(prev, next)}, nil
	})
	if err != nil {
		return Task{}, err
	}
	s.logger.Info("task requeued", slog.String("task_id", id), slog.String("reason", reason))
	return out, nil
}

func processingOther(doc *document, id string) string {
	for _, t := range doc.Tasks {
		if t.Status == Processing && t.ID != id {
			return t.ID
		}
	}
	return ""
}

func statusChange(prev, next Task) Event {
	return Event{Kind: EventStatusChange, Task: next.clone(), From: prev.Status, To: next.Status}
}

func sanitizePathComponent(input string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return config.DefaultProfile
	}

	var b strings.Builder
	for _, r := range trimmed {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' || r == '.' {
			b.WriteRune(r)
			continue
		}
		b.WriteByte('_')
	}
	return b.String()
}
