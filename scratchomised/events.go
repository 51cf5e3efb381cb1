package scratchomised

// ObjectsEvent emitted after each accepted wholesale refresh.
type ObjectsEvent struct {
	Revision uint64
	Count    int // objects now in the store
	Received int // records in the refresh, usable or not
}

// ClickEvent emitted when the peer reports a clicked object.
type ClickEvent struct {
	ObjectID string
}
