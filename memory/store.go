package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"
)

const (
	DefaultMaxMessages     = 20
	DefaultTTL             = 30 * time.Minute
	DefaultCleanupInterval = 5 * time.Minute
	DefaultPath            = ".conversations.json"
)

// Options configures a Store. Zero values fall back to the defaults above.
type Options struct {
	Path            string
	TTL             time.Duration
	MaxMessages     int
	CleanupInterval time.Duration
	Fs              afero.Fs
	Logger          *slog.Logger
	Now             func() time.Time
}

type entry struct {
	messages   []Message
	lastAccess time.Time
}

// persistedEntry is the on-disk shape; lastAccess is unix milliseconds.
type persistedEntry struct {
	Messages   []Message `json:"messages"`
	LastAccess int64     `json:"lastAccess"`
}

// Store keeps conversation histories in memory and mirrors them to a single
// JSON file. All methods are safe for concurrent use.
type Store struct {
	path        string
	ttl         time.Duration
	maxMessages int
	interval    time.Duration
	fs          afero.Fs
	log         *slog.Logger
	now         func() time.Time

	// mu guards entries and is held across the persist that follows a mutation,
	// so the file is always written in mutation order.
	mu      sync.Mutex
	entries map[string]*entry

	stopMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewStore(opts Options) *Store {
	s := &Store{
		path:        opts.Path,
		ttl:         opts.TTL,
		maxMessages: opts.MaxMessages,
		interval:    opts.CleanupInterval,
		fs:          opts.Fs,
		log:         opts.Logger,
		now:         opts.Now,
		entries:     make(map[string]*entry),
	}
	if s.path == "" {
		s.path = DefaultPath
	}
	if s.ttl <= 0 {
		s.ttl = DefaultTTL
	}
	if s.maxMessages <= 0 {
		s.maxMessages = DefaultMaxMessages
	}
	if s.interval <= 0 {
		s.interval = DefaultCleanupInterval
	}
	if s.fs == nil {
		s.fs = afero.NewOsFs()
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	s.log = s.log.With("component", "conversations")
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Init restores non-expired entries from disk and returns how many were restored.
// A missing file yields an empty store; read or decode failures are logged and
// leave the store empty rather than failing startup.
func (s *Store) Init() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.log.Error("failed to load from disk", "path", s.path, "error", err)
		}
		return 0
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		s.log.Error("failed to load from disk", "path", s.path, "error", err)
		return 0
	}

	now := s.now()
	for key, r := range raw {
		var pe persistedEntry
		if err := json.Unmarshal(r, &pe); err != nil {
			s.log.Warn("skipping malformed conversation", "key", key, "error", err)
			continue
		}
		last := time.UnixMilli(pe.LastAccess)
		// Restore only entries strictly younger than the TTL.
		if now.Sub(last) >= s.ttl {
			continue
		}
		s.entries[key] = &entry{messages: s.trim(pe.Messages), lastAccess: last}
	}
	s.log.Info("restored conversations from disk", "count", len(s.entries))
	return len(s.entries)
}

// GetHistory returns a copy of the history for key, or an empty slice when the
// entry is absent or expired. A hit refreshes the entry's TTL window.
func (s *Store) GetHistory(key string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return []Message{}
	}
	now := s.now()
	if s.expired(e.lastAccess, now) {
		delete(s.entries, key)
		s.persistLocked()
		return []Message{}
	}
	e.lastAccess = now
	return CloneMessages(e.messages)
}

// UpdateHistory replaces the history for key with the most recent MaxMessages
// of msgs and persists before returning.
func (s *Store) UpdateHistory(key string, msgs []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = &entry{messages: s.trim(msgs), lastAccess: s.now()}
	s.persistLocked()
}

// ClearHistory removes the entry for key, if any, and persists.
func (s *Store) ClearHistory(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	s.persistLocked()
}

// CleanupExpired drops every expired entry and persists once if anything was
// removed. It returns the number of entries dropped.
func (s *Store) CleanupExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, e := range s.entries {
		if s.expired(e.lastAccess, now) {
			delete(s.entries, key)
			removed++
		}
	}
	if removed > 0 {
		s.persistLocked()
		s.log.Debug("removed expired conversations", "count", removed)
	}
	return removed
}

// Len returns the number of physically present entries, expired or not.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Start runs CleanupExpired every CleanupInterval until ctx is done or Stop is
// called. Calling Start on a running store is a no-op.
func (s *Store) Start(ctx context.Context) {
	s.stopMu.Lock()
	defer s.stopMu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel, s.done = cancel, done

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.CleanupExpired()
			}
		}
	}()
}

// Stop halts the cleanup task and waits for it to exit.
func (s *Store) Stop() {
	s.stopMu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.stopMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Store) expired(last, now time.Time) bool {
	return now.Sub(last) > s.ttl
}

func (s *Store) trim(msgs []Message) []Message {
	if len(msgs) > s.maxMessages {
		msgs = msgs[len(msgs)-s.maxMessages:]
	}
	out := CloneMessages(msgs)
	if out == nil {
		out = []Message{}
	}
	return out
}

// persistLocked rewrites the store file. Failures are logged only; the
// in-memory map stays authoritative. Caller must hold s.mu.
func (s *Store) persistLocked() {
	if err := s.writeFile(); err != nil {
		s.log.Error("failed to save to disk", "path", s.path, "error", err)
	}
}

func (s *Store) writeFile() error {
	out := make(map[string]persistedEntry, len(s.entries))
	for key, e := range s.entries {
		out[key] = persistedEntry{Messages: e.messages, LastAccess: e.lastAccess.UnixMilli()}
	}
	b, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	tmp, err := afero.TempFile(s.fs, dir, ".conversations-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := s.fs.Rename(tmpName, s.path); err != nil {
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", tmpName, err)
	}
	return nil
}
