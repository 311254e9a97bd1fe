// Package issuer provides one-ahead, explicitly closable record streams.
//
// An Issuer buffers at most one record. HasNext and Peek fill the buffer,
// Next drains it, so any number of HasNext/Peek calls between two Next
// calls observe the same record and cause no further reads from the
// underlying source.
package issuer

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEndOfSequence is returned by Next and Peek when no record is left.
	ErrEndOfSequence = errors.New("end of sequence")

	// ErrClosed is returned by every read after Close.
	ErrClosed = errors.New("issuer closed")

	errClosedRead = fmt.Errorf("%w: %w", ErrClosed, ErrEndOfSequence)
)

// Issuer is a peekable, closable stream of records.
type Issuer[T any] interface {
	// HasNext reports whether Next would return a record.
	HasNext() (bool, error)
	// Next returns the buffered record and advances the stream.
	Next() (T, error)
	// Peek returns the record Next would return without consuming it.
	Peek() (T, error)
	// Close releases owned resources. It is idempotent.
	Close() error
}

// DataAccessError reports a fault of the underlying data source.
// Suppressed holds secondary failures met while releasing resources.
type DataAccessError struct {
	Op         string
	Source     string
	Err        error
	Suppressed []error
}

func (e *DataAccessError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Source != "" {
		fmt.Fprintf(&b, " %s", e.Source)
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	if len(e.Suppressed) > 0 {
		fmt.Fprintf(&b, " (%d suppressed)", len(e.Suppressed))
	}
	return b.String()
}

func (e *DataAccessError) Unwrap() error { return e.Err }

func accessError(op, source string, err error) error {
	if err == nil {
		return nil
	}
	var dae *DataAccessError
	if errors.As(err, &dae) {
		return err
	}
	return &DataAccessError{Op: op, Source: source, Err: err}
}

// lookahead implements the one-record buffer shared by every Issuer.
// fetch reports false once the source is exhausted.
type lookahead[T any] struct {
	name     string
	fetch    func() (T, bool, error)
	head     T
	buffered bool
	done     bool
	closed   bool
	err      error
}

func (l *lookahead[T]) fill() error {
	switch {
	case l.closed:
		return ErrClosed
	case l.err != nil:
		return l.err
	case l.buffered || l.done:
		return nil
	}
	v, ok, err := l.fetch()
	if err != nil {
		l.err = accessError("read", l.name, err)
		return l.err
	}
	if !ok {
		l.done = true
		return nil
	}
	l.head, l.buffered = v, true
	return nil
}

func (l *lookahead[T]) HasNext() (bool, error) {
	if err := l.fill(); err != nil {
		return false, err
	}
	return l.buffered, nil
}

func (l *lookahead[T]) Peek() (T, error) {
	var zero T
	if l.closed {
		return zero, errClosedRead
	}
	if err := l.fill(); err != nil {
		return zero, err
	}
	if !l.buffered {
		return zero, ErrEndOfSequence
	}
	return l.head, nil
}

func (l *lookahead[T]) Next() (T, error) {
	v, err := l.Peek()
	if err != nil {
		return v, err
	}
	var zero T
	l.head, l.buffered = zero, false
	return v, nil
}

// markClosed flags the buffer closed and reports whether it already was.
func (l *lookahead[T]) markClosed() bool {
	if l.closed {
		return true
	}
	var zero T
	l.closed, l.head, l.buffered = true, zero, false
	return false
}

// Drain reads every remaining record of src and closes it.
func Drain[T any](src Issuer[T]) (out []T, err error) {
	defer func() {
		if cerr := src.Close(); err == nil {
			err = cerr
		}
	}()
	for {
		ok, err := src.HasNext()
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		v, err := src.Next()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
}

type anyIssuer[T any] struct {
	src Issuer[T]
}

// Any adapts a typed Issuer to an Issuer of untyped records.
func Any[T any](src Issuer[T]) Issuer[any] {
	if a, ok := any(src).(Issuer[any]); ok {
		return a
	}
	return anyIssuer[T]{src: src}
}

func (a anyIssuer[T]) HasNext() (bool, error) { return a.src.HasNext() }
func (a anyIssuer[T]) Close() error           { return a.src.Close() }

func (a anyIssuer[T]) Next() (any, error) {
	v, err := a.src.Next()
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (a anyIssuer[T]) Peek() (any, error) {
	v, err := a.src.Peek()
	if err != nil {
		return nil, err
	}
	return v, nil
}
