package rpcfront

import "errors"

// ErrNoServer is returned by Dial when no daemon is listening on the
// configured socket; callers fall through to an in-process core (spec.md
// §4.6, §9).
var ErrNoServer = errors.New("rpcfront: no server listening")
