package queue

// Codec converts values of T to and from a fixed-size encoding.
type Codec[T any] interface {
	Size() int
	Encode(dst []byte, v T)
	Decode(src []byte) T
}

// Of is a Queue of T values stored through a Codec.
type Of[T any] struct {
	q       *Queue
	codec   Codec[T]
	staging []byte
}

// NewOf allocates a typed queue of capacity elements.
func NewOf[T any](codec Codec[T], capacity uint32) (*Of[T], error) {
	q, err := New(uint32(codec.Size()), capacity)
	if err != nil {
		return nil, err
	}
	return &Of[T]{
		q:       q,
		codec:   codec,
		staging: make([]byte, codec.Size()),
	}, nil
}

// Push encodes v into the tail slot. It reports false when the queue is full.
func (o *Of[T]) Push(v T) bool {
	if o.staging == nil {
		return false
	}
	o.codec.Encode(o.staging, v)
	return o.q.Push(o.staging)
}

func (o *Of[T]) Pop() { o.q.Pop() }

func (o *Of[T]) Front() (T, bool) {
	b, ok := o.q.Front()
	if !ok {
		var zero T
		return zero, false
	}
	return o.codec.Decode(b), true
}

func (o *Of[T]) Back() (T, bool) {
	b, ok := o.q.Back()
	if !ok {
		var zero T
		return zero, false
	}
	return o.codec.Decode(b), true
}

func (o *Of[T]) Size() int   { return o.q.Size() }
func (o *Of[T]) Cap() int    { return o.q.Cap() }
func (o *Of[T]) Empty() bool { return o.q.Empty() }
func (o *Of[T]) Full() bool  { return o.q.Full() }

func (o *Of[T]) Close() {
	o.q.Close()
	o.staging = nil
}
