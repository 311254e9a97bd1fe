package issuer

import "iter"

// Slice issues the elements of an in-memory slice in order.
type Slice[T any] struct {
	lookahead[T]
	items []T
	pos   int
}

// FromSlice returns an Issuer over items. The slice is not copied.
func FromSlice[T any](items []T) *Slice[T] {
	s := &Slice[T]{items: items}
	s.name = "slice"
	s.fetch = s.read
	return s
}

// Empty returns an exhausted Issuer.
func Empty[T any]() *Slice[T] { return FromSlice[T](nil) }

func (s *Slice[T]) read() (T, bool, error) {
	if s.pos >= len(s.items) {
		var zero T
		return zero, false, nil
	}
	v := s.items[s.pos]
	s.pos++
	return v, true, nil
}

// Len returns the total number of elements.
func (s *Slice[T]) Len() int { return len(s.items) }

// Close implements Issuer.
func (s *Slice[T]) Close() error {
	s.markClosed()
	return nil
}

// Func issues records produced by a pull function.
type Func[T any] struct {
	lookahead[T]
	release  func() error
	released bool
}

// FromFunc returns an Issuer that calls next for each record until next
// reports false. release, when non-nil, runs once on Close.
func FromFunc[T any](name string, next func() (T, bool, error), release func() error) *Func[T] {
	f := &Func[T]{release: release}
	f.name = name
	f.fetch = next
	return f
}

// FromSeq returns an Issuer pulling from a range-over-func sequence.
// Closing the Issuer stops the sequence.
func FromSeq[T any](name string, seq iter.Seq2[T, error]) *Func[T] {
	next, stop := iter.Pull2(seq)
	return FromFunc(name, func() (T, bool, error) {
		v, err, ok := next()
		if !ok {
			var zero T
			return zero, false, nil
		}
		if err != nil {
			return v, false, err
		}
		return v, true, nil
	}, func() error {
		stop()
		return nil
	})
}

// Close implements Issuer.
func (f *Func[T]) Close() error {
	if f.markClosed() || f.released {
		return nil
	}
	f.released = true
	if f.release == nil {
		return nil
	}
	return accessError("close", f.name, f.release())
}
