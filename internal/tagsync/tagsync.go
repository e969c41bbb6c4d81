// Package tagsync keeps the stored tag dictionary in step with data/tags.json.
package tagsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"tehais/internal/config"
	"tehais/internal/model"

	"github.com/fsnotify/fsnotify"
	"github.com/gofrs/flock"
)

const lockTimeout = time.Second

type TagWriter interface {
	PutTags(ctx context.Context, tags []model.Tag) error
}

// Syncer imports the tag dictionary file into storage and re-imports it
// whenever the file changes.
type Syncer struct {
	filePath string
	store    TagWriter
	onChange func()

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	imported int
}

func New(filePath string, store TagWriter, onChange func()) *Syncer {
	return &Syncer{
		filePath: filePath,
		store:    store,
		onChange: onChange,
	}
}

func lockPath(filePath string) string {
	return filePath + ".lock"
}

// Import reads the dictionary under a shared lock and upserts every tag.
func (s *Syncer) Import(ctx context.Context) (int, error) {
	tags, err := readTags(ctx, s.filePath)
	if err != nil {
		return 0, err
	}

	if err := s.store.PutTags(ctx, tags); err != nil {
		return 0, fmt.Errorf("failed to store tags: %w", err)
	}

	s.mu.Lock()
	s.imported = len(tags)
	s.mu.Unlock()

	if s.onChange != nil {
		s.onChange()
	}
	log.Printf("[TagSync] タグ辞書読み込み成功: %d件 (ファイル: %s)", len(tags), s.filePath)
	return len(tags), nil
}

// Imported returns the tag count of the last successful import.
func (s *Syncer) Imported() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.imported
}

func readTags(ctx context.Context, path string) ([]model.Tag, error) {
	lockCtx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()

	fileLock := flock.New(lockPath(path))
	locked, err := fileLock.TryRLockContext(lockCtx, 50*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire read lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("could not acquire read lock on %s", path)
	}
	defer fileLock.Unlock() //nolint:errcheck

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw []model.Tag
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	tags := make([]model.Tag, 0, len(raw))
	for _, t := range raw {
		if t.ID <= 0 || t.Name == "" {
			log.Printf("[TagSync] 不正なタグをスキップ: %+v", t)
			continue
		}
		tags = append(tags, t)
	}
	return tags, nil
}

// Export writes tags to path under an exclusive lock, so a concurrent
// Import never sees a half-written file.
func Export(ctx context.Context, path string, tags []model.Tag) error {
	data, err := json.MarshalIndent(tags, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}

	lockCtx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()

	fileLock := flock.New(lockPath(path))
	locked, err := fileLock.TryLockContext(lockCtx, 50*time.Millisecond)
	if err != nil {
		return fmt.Errorf("failed to acquire write lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("could not acquire write lock on %s", path)
	}
	defer fileLock.Unlock() //nolint:errcheck

	return os.WriteFile(path, data, config.DataFilePermission)
}

// StartWatching re-imports the file on every write until ctx is done.
func (s *Syncer) StartWatching(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	if err := watcher.Add(s.filePath); err != nil {
		watcher.Close() //nolint:errcheck
		return err
	}

	s.mu.Lock()
	s.watcher = watcher
	s.mu.Unlock()

	go s.watchLoop(ctx, watcher)
	log.Printf("[TagSync] ファイル監視を開始: %s", s.filePath)
	return nil
}

func (s *Syncer) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close() //nolint:errcheck

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			s.handleFileEvent(ctx, event)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[TagSync] 監視エラー: %v", err)
		}
	}
}

func (s *Syncer) handleFileEvent(ctx context.Context, event fsnotify.Event) {
	if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
		s.importLogged(ctx)
		return
	}

	// エディタがファイルを置き換えると監視が外れるため再登録する
	if event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
		go s.attemptRewatch(ctx)
	}
}

func (s *Syncer) importLogged(ctx context.Context) {
	if _, err := s.Import(ctx); err != nil {
		log.Printf("[TagSync] 再読み込みエラー: %v", err)
	}
}

func (s *Syncer) attemptRewatch(ctx context.Context) {
	for range 5 {
		if s.tryAddWatcher() {
			s.importLogged(ctx)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
	log.Printf("[TagSync] ファイル監視の再開を断念: %s", s.filePath)
}

func (s *Syncer) tryAddWatcher() bool {
	if _, err := os.Stat(s.filePath); err != nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watcher != nil && s.watcher.Add(s.filePath) == nil
}

// Start imports the dictionary once and keeps it in sync. A missing file is
// not an error: the stored dictionary is used as is.
func Start(ctx context.Context, filePath string, store TagWriter, onChange func()) (*Syncer, error) {
	s := New(filePath, store, onChange)

	if _, err := os.Stat(filePath); errors.Is(err, os.ErrNotExist) {
		log.Printf("[TagSync] %s が見つかりません（保存済みのタグを使用）", filePath)
		return s, nil
	}

	if _, err := s.Import(ctx); err != nil {
		return nil, err
	}
	if err := s.StartWatching(ctx); err != nil {
		log.Printf("[TagSync] ファイル監視の開始に失敗 (%s): %v", filePath, err)
	}
	return s, nil
}
