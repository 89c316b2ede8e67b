package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	logx "notifybridge/pkg/logx"
)

// saveFailLogInterval bounds how often a failing save is logged above debug.
const saveFailLogInterval = 30 * time.Second

// Store owns the config file, its backup and the last committed document.
//
// Load never fails: it walks primary -> backup -> defaults, moving a corrupt primary
// aside instead of deleting it. Save replaces the primary atomically and then refreshes
// the backup from it, so a crash mid-save never leaves both copies broken.
type Store struct {
	path  string
	log   logx.Logger
	clock clockwork.Clock

	mu       sync.RWMutex
	cfg      *Config
	lastHash uint64
	// diskHash is the content hash of the primary as last read or written here.
	diskHash uint64

	// subsMu guards the subscriber list so publish never sends on a channel
	// that Unsubscribe is closing.
	subsMu sync.Mutex
	subs   []chan *Config

	saveFailLog *rate.Limiter
}

type StoreOption func(*Store)

func WithLogger(log logx.Logger) StoreOption { return func(s *Store) { s.log = log } }

func WithClock(c clockwork.Clock) StoreOption { return func(s *Store) { s.clock = c } }

func NewStore(path string, opts ...StoreOption) *Store {
	s := &Store{
		path:        path,
		log:         logx.Nop(),
		clock:       clockwork.NewRealClock(),
		saveFailLog: rate.NewLimiter(rate.Every(saveFailLogInterval), 1),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) Path() string { return s.path }

// Parse reads and decodes the primary file without committing it.
func (s *Store) Parse() (*Config, []Issue, error) {
	return parseFile(s.path)
}

func parseFile(path string) (*Config, []Issue, error) {
	cfg, issues, _, err := readDocument(path)
	return cfg, issues, err
}

// readDocument is parseFile that also returns the raw file content.
func readDocument(path string) (*Config, []Issue, []byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, nil, err
	}
	jb, err := documentJSON(path, b)
	if err != nil {
		return nil, nil, b, err
	}
	cfg, issues, err := decodeDocument(jb)
	return cfg, issues, b, err
}

func (s *Store) noteDisk(raw []byte) {
	s.mu.Lock()
	s.diskHash = hashBytes(raw)
	s.mu.Unlock()
}

// Load returns the effective config, recovering from a missing or corrupt primary.
func (s *Store) Load() *Config {
	cfg, issues, raw, err := readDocument(s.path)
	switch {
	case err == nil:
		s.logIssues(issues)
		s.Commit(cfg)
		s.noteDisk(raw)
		return cfg

	case errors.Is(err, fs.ErrNotExist):
		cfg = Default()
		s.log.Event(logx.LevelInfo, "config_default_created", logx.String("path", s.path))
		if err := s.Save(cfg); err != nil {
			s.Commit(cfg)
		}
		return cfg
	}

	s.log.Event(logx.LevelWarn, "config_primary_invalid", logx.String("path", s.path), logx.Err(err))

	backup := BackupPath(s.path)
	bcfg, bissues, berr := parseFile(backup)
	if berr == nil {
		s.moveAside()
		if err := s.restoreFromBackup(backup); err != nil {
			s.log.Event(logx.LevelError, "config_restore_failed", logx.String("path", s.path), logx.Err(err))
		} else {
			s.log.Event(logx.LevelWarn, "config_restored_from_backup", logx.String("path", s.path), logx.String("backup", backup))
		}
		s.logIssues(bissues)
		s.Commit(bcfg)
		return bcfg
	}

	s.log.Event(logx.LevelWarn, "config_backup_invalid", logx.String("backup", backup), logx.Err(berr))
	s.moveAside()
	cfg = Default()
	s.log.Event(logx.LevelWarn, "config_defaults_used", logx.String("path", s.path))
	s.Commit(cfg)
	return cfg
}

func (s *Store) logIssues(issues []Issue) {
	for _, is := range issues {
		s.log.Event(logx.LevelWarn, "config_field_invalid",
			logx.String("field", is.Field),
			logx.String("reason", is.Reason),
		)
	}
}

// moveAside renames the primary to <path>.corrupt, or a timestamped variant when that
// name is already taken. An earlier corrupt copy is never overwritten.
func (s *Store) moveAside() {
	if _, err := os.Lstat(s.path); err != nil {
		return
	}
	target := CorruptPath(s.path)
	if _, err := os.Lstat(target); err == nil {
		stamp := s.clock.Now().UTC().Format("20060102T150405.000000000Z")
		target = CorruptPath(s.path) + "-" + stamp
	}
	if err := os.Rename(s.path, target); err != nil {
		s.log.Event(logx.LevelWarn, "config_corrupt_rename_failed", logx.String("path", s.path), logx.Err(err))
		return
	}
	s.log.Event(logx.LevelWarn, "config_corrupt_moved", logx.String("path", s.path), logx.String("moved_to", target))
}

func (s *Store) restoreFromBackup(backup string) error {
	b, err := os.ReadFile(backup)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(s.path, b); err != nil {
		return err
	}
	s.noteDisk(b)
	return nil
}

// Save persists cfg: temp file + rename over the primary, then the backup is refreshed
// from the now-current primary.
//
// When the primary was edited since the last commit and the reload has not landed yet,
// the edited settings are adopted into cfg first. Only cfg's learning state (last_reset,
// pending, shown_session) survives over the file; the merged document is published.
func (s *Store) Save(cfg *Config) error {
	if cfg == nil {
		return errors.New("save config: nil document")
	}
	merged := s.adoptExternalEdit(cfg)
	// JSON is valid YAML, so YAML-configured paths are written the same way.
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return s.saveFailed(fmt.Errorf("encode config: %w", err))
	}
	b = append(b, '\n')

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return s.saveFailed(err)
	}
	if err := writeFileAtomic(s.path, b); err != nil {
		return s.saveFailed(err)
	}
	s.noteDisk(b)
	if err := s.refreshBackup(); err != nil {
		s.log.Event(logx.LevelWarn, "config_backup_failed", logx.String("path", s.path), logx.Err(err))
	}

	s.Commit(cfg.Clone())
	if merged {
		s.publish(cfg.Clone())
	}
	return nil
}

// adoptExternalEdit reports whether the primary changed since this store last read or
// wrote it, in which case the file's document was merged into cfg.
func (s *Store) adoptExternalEdit(cfg *Config) bool {
	s.mu.RLock()
	committed, known := s.cfg != nil, s.diskHash
	s.mu.RUnlock()
	if !committed {
		return false
	}
	disk, issues, raw, err := readDocument(s.path)
	if err != nil || hashBytes(raw) == known {
		return false
	}

	learned := cfg.Clone().Learning
	*cfg = *disk
	cfg.Learning.LastReset = learned.LastReset
	cfg.Learning.Pending = learned.Pending
	cfg.Learning.ShownSession = learned.ShownSession

	s.logIssues(issues)
	s.log.Event(logx.LevelInfo, "config_external_edit_merged", logx.String("path", s.path))
	return true
}

func (s *Store) refreshBackup() error {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	return writeFileAtomic(BackupPath(s.path), b)
}

func (s *Store) saveFailed(err error) error {
	lvl := logx.LevelDebug
	if s.saveFailLog.AllowN(s.clock.Now(), 1) {
		lvl = logx.LevelWarn
	}
	s.log.Event(lvl, "config_save_failed", logx.String("path", s.path), logx.Err(err))
	return fmt.Errorf("save config: %w", err)
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	f, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	cleanup := func() { _ = os.Remove(tmp) }

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		cleanup()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		cleanup()
		return err
	}
	if err := f.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		cleanup()
		return err
	}
	return nil
}

// Commit records cfg as the last known on-disk state.
func (s *Store) Commit(cfg *Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.lastHash = hashConfig(cfg)
	s.mu.Unlock()
}

// Get returns the last committed document. Callers must not mutate it.
func (s *Store) Get() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

func hashConfig(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	return hashBytes(b)
}

func hashBytes(b []byte) uint64 {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

// Subscribe returns a channel receiving documents reloaded from disk.
func (s *Store) Subscribe(buffer int) chan *Config {
	ch := make(chan *Config, buffer)
	s.subsMu.Lock()
	s.subs = append(s.subs, ch)
	s.subsMu.Unlock()
	return ch
}

func (s *Store) Unsubscribe(ch chan *Config) {
	if ch == nil {
		return
	}
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for i, c := range s.subs {
		if c == ch {
			last := len(s.subs) - 1
			s.subs[i] = s.subs[last]
			s.subs[last] = nil
			s.subs = s.subs[:last]
			close(ch)
			return
		}
	}
}

func (s *Store) publish(cfg *Config) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, ch := range s.subs {
		// Latest wins: when the buffer is full, drop the oldest queued document.
		select {
		case ch <- cfg:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- cfg:
		default:
			s.log.Debug("config update dropped (subscriber slow)", logx.Int("queue_cap", cap(ch)))
		}
	}
}
