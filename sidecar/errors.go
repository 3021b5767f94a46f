package sidecar

import "errors"

var (
	// ErrNotAnImage is returned when a path's stem is not a valid uid;
	// callers are expected to silently skip these.
	ErrNotAnImage = errors.New("sidecar: filename stem is not a valid uid")
)
