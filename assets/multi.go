package assets

import (
	"context"
	"errors"
)

// MultiStore writes to a primary backend and still reaches blobs written
// to earlier backends, e.g. during a move from local disk to S3.
type MultiStore struct {
	primary Store
	others  []Store
}

var _ Store = (*MultiStore)(nil)

// NewMultiStore creates a store that writes to primary. others are only
// consulted for Exists and Delete.
func NewMultiStore(primary Store, others ...Store) *MultiStore {
	return &MultiStore{primary: primary, others: others}
}

func (m *MultiStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	return m.primary.Put(ctx, key, data, contentType)
}

func (m *MultiStore) Exists(ctx context.Context, key string) (bool, error) {
	var errs []error
	for _, s := range m.backends() {
		ok, err := s.Exists(ctx, key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			return true, nil
		}
	}
	return false, errors.Join(errs...)
}

// Delete removes key from every backend that holds it.
func (m *MultiStore) Delete(ctx context.Context, key string) error {
	var errs []error
	for _, s := range m.backends() {
		ok, err := s.Exists(ctx, key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !ok {
			continue
		}
		if err := s.Delete(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *MultiStore) backends() []Store {
	return append([]Store{m.primary}, m.others...)
}
