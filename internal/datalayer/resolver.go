package datalayer

import (
	"context"
	"fmt"
)

// Resolver routes locators to the storage that serves their scheme.
type Resolver struct {
	Files FileStorage
	// Objects serves s3:// locators. It may be nil, in which case those
	// locators are rejected.
	Objects MediaStorage
}

func (r *Resolver) storage(loc Locator) (MediaStorage, error) {
	switch loc.Scheme {
	case SchemeFile:
		return r.Files, nil
	case SchemeS3:
		if r.Objects == nil {
			return nil, fmt.Errorf("%w: object storage is not configured for %s", ErrInvalidLocator, loc)
		}
		return r.Objects, nil
	}
	return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidLocator, loc.Scheme)
}

func (r *Resolver) Open(ctx context.Context, loc Locator) (Object, error) {
	s, err := r.storage(loc)
	if err != nil {
		return nil, err
	}
	return s.Open(ctx, loc)
}

func (r *Resolver) Create(ctx context.Context, loc Locator) (Output, error) {
	s, err := r.storage(loc)
	if err != nil {
		return nil, err
	}
	return s.Create(ctx, loc)
}

var _ MediaStorage = (*Resolver)(nil)
