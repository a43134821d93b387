package store

import "errors"

// ErrNoPendingRow means no persisted record is waiting for an EMR id.
var ErrNoPendingRow = errors.New("store: no record without emr id")
