package tracking

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/your-org/colony-strength/pkg/logger"
)

// reloadDelay collapses the burst of events produced by one atomic write.
const reloadDelay = 200 * time.Millisecond

// WatchPaths returns the directories whose changes may change what uri
// resolves to. Run URIs are immutable and non-file stores cannot be
// watched; both yield no paths.
func WatchPaths(store Store, uri string) ([]string, error) {
	ref, err := ParseModelURI(uri)
	if err != nil {
		return nil, err
	}
	switch {
	case ref.IsRun():
		return nil, nil
	case ref.IsRegistry():
		fs, ok := store.(*FileStore)
		if !ok {
			return nil, nil
		}
		dir := filepath.Join(fs.Root(), "models", ref.Name)
		// 最初の登録前でも監視できるように作成しておく
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
		return []string{dir}, nil
	default:
		p := ref.Path
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			return []string{p}, nil
		}
		return []string{filepath.Dir(p)}, nil
	}
}

// Watch calls onChange after files under paths are written, created,
// removed or renamed. It blocks until ctx is cancelled.
func Watch(ctx context.Context, paths []string, onChange func(ctx context.Context)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	for _, p := range paths {
		if err := w.Add(p); err != nil {
			return fmt.Errorf("failed to watch %s: %w", p, err)
		}
		logger.Infof("Watching %s for model updates", p)
	}

	timer := time.NewTimer(reloadDelay)
	if !timer.Stop() {
		<-timer.C
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if event.Op == fsnotify.Chmod {
				continue
			}
			logger.Debugf("%s is updated (%s)", event.Name, event.Op.String())
			timer.Reset(reloadDelay)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warnf("File watcher error: %v", err)
		case <-timer.C:
			onChange(ctx)
		}
	}
}
