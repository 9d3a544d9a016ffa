package flow

import "errors"

// ErrEmptyFlow is returned by First/Single/Last/Reduce when the upstream
// Flow completes without emitting any value.
var ErrEmptyFlow = errors.New("concord/flow: expected at least one element")

// ErrMoreThanOneElement is returned by Single when the upstream Flow emits
// more than one value.
var ErrMoreThanOneElement = errors.New("concord/flow: expected exactly one element")
