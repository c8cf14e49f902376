package sampler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// ErrMarkerRemoved is returned by watchMarker once the marker file is gone.
var ErrMarkerRemoved = errors.New("marker removed")

// watchMarker blocks until the marker at path is removed or renamed, or ctx
// is done. The parent directory is watched since the file itself goes away.
func watchMarker(ctx context.Context, path string) error {
	path, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("marker watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}
	// The marker may have vanished before the watch was in place.
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return ErrMarkerRemoved
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				return ErrMarkerRemoved
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logrus.Warn("[ MARKER_WATCH ] ", err)
		}
	}
}
