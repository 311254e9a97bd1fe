package issuer

// Lazy defers resolution of the concrete Issuer until the first read.
// The resolved source, or the resolution error, is memoized.
type Lazy[T any] struct {
	resolve  func() (Issuer[T], error)
	src      Issuer[T]
	err      error
	resolved bool
	closed   bool
}

// NewLazy returns an Issuer that calls resolve once, on first use.
// A nil source from resolve is treated as an empty stream.
func NewLazy[T any](resolve func() (Issuer[T], error)) *Lazy[T] {
	return &Lazy[T]{resolve: resolve}
}

func (l *Lazy[T]) get() (Issuer[T], error) {
	if l.closed {
		return nil, ErrClosed
	}
	if !l.resolved {
		l.resolved = true
		l.src, l.err = l.resolve()
		if l.err == nil && l.src == nil {
			l.src = Empty[T]()
		}
		l.err = accessError("resolve", "", l.err)
	}
	return l.src, l.err
}

// Resolved reports whether the source has been resolved.
func (l *Lazy[T]) Resolved() bool { return l.resolved }

func (l *Lazy[T]) HasNext() (bool, error) {
	src, err := l.get()
	if err != nil {
		return false, err
	}
	return src.HasNext()
}

func (l *Lazy[T]) Next() (T, error) {
	src, err := l.get()
	if err != nil {
		var zero T
		if l.closed {
			return zero, errClosedRead
		}
		return zero, err
	}
	return src.Next()
}

func (l *Lazy[T]) Peek() (T, error) {
	src, err := l.get()
	if err != nil {
		var zero T
		if l.closed {
			return zero, errClosedRead
		}
		return zero, err
	}
	return src.Peek()
}

// Close closes the resolved source, if any. An unresolved Lazy is never
// resolved.
func (l *Lazy[T]) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true
	if l.src == nil {
		return nil
	}
	return l.src.Close()
}
