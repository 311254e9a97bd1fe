package issuer

import "fmt"

// Predicate decides whether candidate belongs to anchor.
type Predicate[T any] func(anchor, candidate T) (bool, error)

// Filtered issues records of a shared live stream while they satisfy a
// predicate against a fixed anchor record. The first rejected candidate is
// left unconsumed in the source and ends the filtered stream.
//
// Closing a Filtered issuer does not close its source; the source belongs
// to whoever opened it.
type Filtered[T any] struct {
	lookahead[T]
	src    Issuer[T]
	anchor T
	pred   Predicate[T]
}

// Filter returns an Issuer over the leading records of src matching pred.
func Filter[T any](src Issuer[T], anchor T, pred Predicate[T]) *Filtered[T] {
	f := &Filtered[T]{src: src, anchor: anchor, pred: pred}
	f.name = "filter"
	f.fetch = f.read
	return f
}

func (f *Filtered[T]) read() (T, bool, error) {
	var zero T
	ok, err := f.src.HasNext()
	if err != nil || !ok {
		return zero, false, err
	}
	candidate, err := f.src.Peek()
	if err != nil {
		return zero, false, err
	}
	match, err := f.pred(f.anchor, candidate)
	if err != nil {
		return zero, false, fmt.Errorf("filter predicate: %w", err)
	}
	if !match {
		return zero, false, nil
	}
	if _, err := f.src.Next(); err != nil {
		return zero, false, err
	}
	return candidate, true, nil
}

// Close implements Issuer.
func (f *Filtered[T]) Close() error {
	f.markClosed()
	return nil
}
