package engine

import "errors"

var (
	// ErrInsufficientHistory means a vessel has too few samples to project
	// or evaluate. Callers skip the vessel, never abort the pass.
	ErrInsufficientHistory = errors.New("engine: insufficient history")
	// ErrStaleInput means a detection or signal is older than the window it
	// would be evaluated against.
	ErrStaleInput = errors.New("engine: stale input")
)
