package datalayer

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

var (
	ErrInvalidLocator = errors.New("invalid locator")
	ErrNotFound       = errors.New("not found")
)

const (
	SchemeFile = "file"
	SchemeS3   = "s3"
)

// Locator is a validated reference to a media object.
type Locator struct {
	Scheme string
	// Bucket is set for object storage locators.
	Bucket string
	// Key is a filesystem path for files and an object key otherwise.
	Key string
}

// ParseLocator accepts plain paths, file:// URLs and s3://bucket/key URLs.
func ParseLocator(raw string) (Locator, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Locator{}, fmt.Errorf("%w: empty", ErrInvalidLocator)
	}
	if !strings.Contains(raw, "://") {
		return Locator{Scheme: SchemeFile, Key: filepath.Clean(raw)}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Locator{}, fmt.Errorf("%w: %v", ErrInvalidLocator, err)
	}
	switch u.Scheme {
	case SchemeFile:
		if u.Path == "" {
			return Locator{}, fmt.Errorf("%w: %q has no path", ErrInvalidLocator, raw)
		}
		return Locator{Scheme: SchemeFile, Key: filepath.Clean(u.Path)}, nil
	case SchemeS3:
		key := strings.TrimPrefix(u.Path, "/")
		if u.Host == "" || key == "" {
			return Locator{}, fmt.Errorf("%w: %q needs a bucket and a key", ErrInvalidLocator, raw)
		}
		return Locator{Scheme: SchemeS3, Bucket: u.Host, Key: path.Clean(key)}, nil
	}
	return Locator{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidLocator, u.Scheme)
}

func (l Locator) String() string {
	if l.Scheme == SchemeS3 {
		return "s3://" + l.Bucket + "/" + l.Key
	}
	return l.Key
}

// Name is the last element of the key.
func (l Locator) Name() string {
	return path.Base(filepath.ToSlash(l.Key))
}

// WithSuffix returns a locator for a sibling object with suffix appended.
func (l Locator) WithSuffix(suffix string) Locator {
	l.Key += suffix
	return l
}
