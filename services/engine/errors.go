package engine

import (
	"errors"
	"fmt"
)

// Error kinds let repeated-run callers tell "this input is unusable" apart
// from "the engine itself is broken".
type ErrorKind int

const (
	// KindConfig marks invalid configuration, detected at construction.
	KindConfig ErrorKind = iota
	// KindData marks bad input data for a single run (gaps, misalignment,
	// non-monotonic timestamps). The run is aborted, the engine is fine.
	KindData
	// KindInvariant marks a broken internal invariant (double-spent cash,
	// double-closed position). Always a bug, never recoverable.
	KindInvariant
)

func (k ErrorKind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindData:
		return "data"
	case KindInvariant:
		return "invariant"
	default:
		return "unknown"
	}
}

// Error carries the kind plus enough context (symbol, bar index) to
// reproduce the failure.
type Error struct {
	Kind     ErrorKind
	Symbol   string
	BarIndex int
	Msg      string
}

func (e *Error) Error() string {
	if e.Symbol == "" && e.BarIndex < 0 {
		return fmt.Sprintf("%s error: %s", e.Kind, e.Msg)
	}
	if e.BarIndex < 0 {
		return fmt.Sprintf("%s error [%s]: %s", e.Kind, e.Symbol, e.Msg)
	}
	return fmt.Sprintf("%s error [%s bar %d]: %s", e.Kind, e.Symbol, e.BarIndex, e.Msg)
}

func configErrf(format string, args ...any) error {
	return &Error{Kind: KindConfig, BarIndex: -1, Msg: fmt.Sprintf(format, args...)}
}

func dataErr(symbol string, bar int, msg string) error {
	return &Error{Kind: KindData, Symbol: symbol, BarIndex: bar, Msg: msg}
}

func dataErrf(symbol string, bar int, format string, args ...any) error {
	return &Error{Kind: KindData, Symbol: symbol, BarIndex: bar, Msg: fmt.Sprintf(format, args...)}
}

func invariantErrf(symbol string, bar int, format string, args ...any) error {
	return &Error{Kind: KindInvariant, Symbol: symbol, BarIndex: bar, Msg: fmt.Sprintf(format, args...)}
}

// IsKind reports whether err, or any error it wraps, is an engine Error of
// the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// IsDataError reports whether err marks a bad input rather than a bug, so
// statistical-validation drivers can skip the resample instead of aborting.
func IsDataError(err error) bool { return IsKind(err, KindData) }
