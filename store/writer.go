package store

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

// Labeler resolves the origin label written into a new store's header.
type Labeler interface {
	Lookup(ctx context.Context) string
}

// Writer appends samples to the store at a fixed path. The file is opened
// for every append, so a store deleted underneath a running sampler is
// recreated with a fresh header instead of losing samples to an unlinked
// inode.
type Writer struct {
	path    string
	labeler Labeler
}

func NewWriter(path string, labeler Labeler) *Writer {
	return &Writer{path: path, labeler: labeler}
}

func (w *Writer) Path() string {
	return w.path
}

// Init makes sure the store exists. A new store gets its header from the
// Labeler; an existing one is left untouched so its original label survives
// network changes. It returns the label in effect and whether the store was
// created.
func (w *Writer) Init(ctx context.Context) (label string, created bool, err error) {
	if _, err = os.Stat(w.path); err == nil {
		label, err = Label(w.path)
		return label, false, err
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", false, err
	}

	label = w.labeler.Lookup(ctx)

	f, err := os.OpenFile(w.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			// Lost a creation race, the winner wrote the header.
			label, err = Label(w.path)
			return label, false, err
		}
		return "", false, fmt.Errorf("create %s: %w", w.path, err)
	}
	defer f.Close()

	if _, err = f.WriteString(formatHeader(label)); err != nil {
		return "", false, fmt.Errorf("write header: %w", err)
	}

	return label, true, nil
}

// Append writes s as a single line at the end of the store.
func (w *Writer) Append(ctx context.Context, s Sample) error {
	f, err := os.OpenFile(w.path, os.O_WRONLY|os.O_APPEND, 0)
	if errors.Is(err, os.ErrNotExist) {
		logrus.Warn("[ STORE_RECREATE ] data file disappeared: ", w.path)
		if _, _, err = w.Init(ctx); err != nil {
			return err
		}
		f, err = os.OpenFile(w.path, os.O_WRONLY|os.O_APPEND, 0)
	}
	if err != nil {
		return fmt.Errorf("open %s: %w", w.path, err)
	}
	defer f.Close()

	if _, err = f.WriteString(FormatSample(s)); err != nil {
		return fmt.Errorf("append sample: %w", err)
	}

	return nil
}
