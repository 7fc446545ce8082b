package database

// Record is implemented by every type stored in a [DB].
//
// The index is the primary key. Zero means "not assigned yet".
type Record[T any] interface {
	GetIndex() int64
	SetIndex(index int64)
	// Serialize returns the single-line text form, usually built with
	// [Serialize].
	Serialize() string
	// Clone returns a copy that shares no mutable state with the receiver.
	Clone() T
}

// Deserializer rebuilds a record from the text returned by Record.Serialize.
type Deserializer[T any] func(text string) (T, error)
