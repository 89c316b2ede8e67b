package config

import (
	"context"
	"fmt"
	"math/rand"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jonboulle/clockwork"

	logx "notifybridge/pkg/logx"
)

const (
	reloadDebounce     = 250 * time.Millisecond
	restartBackoffBase = 250 * time.Millisecond
	restartBackoffMax  = 5 * time.Second
)

// Watch follows the config file and publishes every externally edited document to
// subscribers. It returns when ctx is done.
//
// A document that fails to parse is logged and ignored; the current config stays in
// effect. Writes made by Save hash the same as the committed document and are skipped.
func (s *Store) Watch(ctx context.Context) error {
	dir := filepath.Dir(s.path)
	file := filepath.Base(s.path)

	backoff := restartBackoffBase
	rng := rand.New(rand.NewSource(s.clock.Now().UnixNano()))
	nextWait := func() time.Duration {
		wait := backoff + time.Duration(rng.Int63n(int64(backoff/2)+1))
		backoff = min(backoff*2, restartBackoffMax)
		return wait
	}

	var (
		timerMu sync.Mutex
		timer   clockwork.Timer
	)
	debounce := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = s.clock.AfterFunc(reloadDebounce, s.reload)
	}
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}

		w, err := fsnotify.NewWatcher()
		if err == nil {
			if err = w.Add(dir); err != nil {
				_ = w.Close()
			}
		}
		if err != nil {
			s.log.Warn("config watch init failed", logx.Err(err), logx.String("dir", dir))
			if !s.sleep(ctx, nextWait()) {
				return nil
			}
			continue
		}

		backoff = restartBackoffBase
		s.log.Debug("config watcher started", logx.String("dir", dir), logx.String("file", file))

		broken := false
		for !broken {
			select {
			case <-ctx.Done():
				_ = w.Close()
				return nil
			case ev, ok := <-w.Events:
				if !ok {
					broken = true
					break
				}
				if !strings.EqualFold(filepath.Base(ev.Name), file) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Chmod) != 0 {
					debounce()
				}
			case err, ok := <-w.Errors:
				if !ok {
					broken = true
					break
				}
				if err == nil {
					continue
				}
				msg := strings.ToLower(err.Error())
				if strings.Contains(msg, "overflow") {
					s.log.Warn("config watch overflow; forcing reload", logx.Err(err))
					debounce()
					continue
				}
				s.log.Warn("config watch error", logx.Err(err), logx.String("dir", dir))
				if strings.Contains(msg, "closed") {
					broken = true
				}
			}
		}

		_ = w.Close()
		wait := nextWait()
		s.log.Warn("config watcher stopped; restarting", logx.String("dir", dir), logx.Duration("backoff", wait))
		if !s.sleep(ctx, wait) {
			return nil
		}
	}
}

func (s *Store) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-s.clock.After(d):
		return true
	}
}

// reload parses the primary and publishes it when its content differs from the
// last committed document.
func (s *Store) reload() {
	cfg, issues, raw, err := readDocument(s.path)
	if err != nil {
		// Removal mid-edit or a half-written document: keep what we have.
		s.log.Event(logx.LevelWarn, "config_reload_rejected", logx.String("path", s.path), logx.Err(err))
		return
	}

	h := hashConfig(cfg)
	s.mu.RLock()
	unchanged := h != 0 && h == s.lastHash
	prev := s.cfg
	s.mu.RUnlock()
	if unchanged {
		s.noteDisk(raw)
		s.log.Debug("config unchanged; skipping publish", logx.String("path", s.path))
		return
	}

	s.logIssues(issues)
	changed, attrs := SummarizeConfigChange(prev, cfg)
	s.Commit(cfg)
	s.noteDisk(raw)
	s.publish(cfg)
	s.log.Event(logx.LevelInfo, "config_reloaded", append([]logx.Field{
		logx.String("path", s.path),
		logx.Strs("changed", changed),
		logx.String("hash", fmt.Sprintf("%x", h)),
	}, attrs...)...)
}
