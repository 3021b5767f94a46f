package hashtrie

import "errors"

// Structural errors returned by Trie mutators. Callers that need to
// distinguish "already there" from "not there" should compare with
// errors.Is against these sentinels.
var (
	ErrDuplicateHash = errors.New("hashtrie: hash already present")
	ErrMissingHash   = errors.New("hashtrie: hash not present")
	ErrCorruptIndex  = errors.New("hashtrie: corrupt index stream")
)
