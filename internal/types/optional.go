package types

type (
	// Optional holds a value that may be absent. The zero value is empty.
	Optional[T comparable] struct {
		value  T
		exists bool
	}
)

func NewOptional[T comparable](value T, exists bool) Optional[T] {
	return Optional[T]{value, exists}
}

func (o Optional[T]) Unpack() (T, bool) {
	return o.value, o.exists
}

// Or returns the held value, or fallback when empty.
func (o Optional[T]) Or(fallback T) T {
	if !o.exists {
		return fallback
	}
	return o.value
}

func (o Optional[T]) Empty() bool {
	return !o.exists
}
