package runtime

import (
	"iter"

	"github.com/jackc/pgx/v5"
)

// Stream decodes pgx rows one at a time. The rows are released as soon as
// they are exhausted, a scan fails, or Close is called.
type Stream[T any] struct {
	rows pgx.Rows
	scan func(pgx.Rows) (T, error)
	cur  T
	err  error
	done bool
}

// NewStream wraps rows; scan decodes the current row.
func NewStream[T any](rows pgx.Rows, scan func(pgx.Rows) (T, error)) *Stream[T] {
	return &Stream[T]{rows: rows, scan: scan}
}

// Next advances to the next row and reports whether one was decoded.
func (s *Stream[T]) Next() bool {
	if s == nil || s.done {
		return false
	}
	if !s.rows.Next() {
		s.finish(s.rows.Err())
		return false
	}
	item, err := s.scan(s.rows)
	if err != nil {
		s.finish(err)
		return false
	}
	s.cur = item
	return true
}

func (s *Stream[T]) finish(err error) {
	var zero T
	s.cur = zero
	if s.err == nil {
		s.err = err
	}
	s.Close()
}

// Item is the row decoded by the last successful Next.
func (s *Stream[T]) Item() T {
	if s == nil {
		var zero T
		return zero
	}
	return s.cur
}

// Err reports the first scan or driver error.
func (s *Stream[T]) Err() error {
	if s == nil {
		return nil
	}
	return s.err
}

// Close releases the rows. It is safe to call more than once.
func (s *Stream[T]) Close() error {
	if s == nil {
		return nil
	}
	if !s.done {
		s.done = true
		if s.rows != nil {
			s.rows.Close()
		}
	}
	return s.err
}

// All yields each decoded row. Check Err once the loop ends.
func (s *Stream[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		defer s.Close()
		for s.Next() {
			if !yield(s.Item()) {
				return
			}
		}
	}
}

// Collect drains the stream. An empty result is an empty, non-nil slice.
func (s *Stream[T]) Collect() ([]T, error) {
	out := []T{}
	for item := range s.All() {
		out = append(out, item)
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// CollectMap drains s into a map keyed by key. Later rows overwrite earlier
// rows with the same key.
func CollectMap[T any, K comparable](s *Stream[T], key func(T) K) (map[K]T, error) {
	out := make(map[K]T)
	for item := range s.All() {
		out[key(item)] = item
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
