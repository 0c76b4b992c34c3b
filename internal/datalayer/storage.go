package datalayer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Object is an opened input.
type Object interface {
	io.ReadSeekCloser
}

// Output is a staged write. Nothing is visible at the destination until
// Commit; Abort discards it or keeps it next to the destination under a
// ".partial" suffix.
type Output interface {
	io.WriteSeeker
	Commit(ctx context.Context) error
	// Abort returns where the partial output was kept, if anywhere.
	Abort(ctx context.Context, keepPartial bool) (string, error)
}

// MediaStorage opens inputs and creates outputs.
type MediaStorage interface {
	Open(ctx context.Context, loc Locator) (Object, error)
	Create(ctx context.Context, loc Locator) (Output, error)
}

const PartialSuffix = ".partial"

// FileStorage keeps media on the local filesystem.
type FileStorage struct{}

func (FileStorage) Open(_ context.Context, loc Locator) (Object, error) {
	f, err := os.Open(loc.Key)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, loc.Key)
		}
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.IsDir() {
		f.Close()
		return nil, fmt.Errorf("%w: %s is a directory", ErrInvalidLocator, loc.Key)
	}
	return f, nil
}

func (FileStorage) Create(_ context.Context, loc Locator) (Output, error) {
	dir := filepath.Dir(loc.Key)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(loc.Key)+".*.tmp")
	if err != nil {
		return nil, err
	}
	return &fileOutput{File: f, dest: loc.Key}, nil
}

type fileOutput struct {
	*os.File
	dest string
	done bool
}

func (o *fileOutput) Commit(context.Context) error {
	if o.done {
		return errors.New("output already finished")
	}
	o.done = true
	if err := o.File.Close(); err != nil {
		os.Remove(o.File.Name())
		return err
	}
	if err := os.Rename(o.File.Name(), o.dest); err != nil {
		os.Remove(o.File.Name())
		return err
	}
	return nil
}

func (o *fileOutput) Abort(_ context.Context, keepPartial bool) (string, error) {
	if o.done {
		return "", nil
	}
	o.done = true
	cerr := o.File.Close()
	if keepPartial && cerr == nil {
		partial := o.dest + PartialSuffix
		if err := os.Rename(o.File.Name(), partial); err == nil {
			return partial, nil
		}
	}
	return "", errors.Join(cerr, os.Remove(o.File.Name()))
}

var _ MediaStorage = FileStorage{}
