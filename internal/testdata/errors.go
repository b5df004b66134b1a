package testdata

import (
	"errors"
	"fmt"
)

// Kind classifies a test data failure.
type Kind int

const (
	// KindNotFound means the named document does not exist in the store.
	KindNotFound Kind = iota + 1
	// KindParseError means the document exists but is not valid JSON.
	KindParseError
	// KindKeyNotFound means a top-level key is absent from a loaded document.
	KindKeyNotFound
	// KindKeyPathNotFound means a dot-separated key path could not be resolved.
	KindKeyPathNotFound
)

// Sentinels for use with errors.Is. Every *Error matches exactly one of them.
var (
	ErrNotFound        = errors.New("test data not found")
	ErrParse           = errors.New("test data is malformed")
	ErrKeyNotFound     = errors.New("test data key not found")
	ErrKeyPathNotFound = errors.New("test data key path not found")
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindParseError:
		return "parse_error"
	case KindKeyNotFound:
		return "key_not_found"
	case KindKeyPathNotFound:
		return "key_path_not_found"
	default:
		return "unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindNotFound:
		return ErrNotFound
	case KindParseError:
		return ErrParse
	case KindKeyNotFound:
		return ErrKeyNotFound
	case KindKeyPathNotFound:
		return ErrKeyPathNotFound
	default:
		return nil
	}
}

// Error is the single error type returned by stores and the Manager.
type Error struct {
	Kind Kind
	// Document is the logical document name.
	Document string
	// Location is the file path or table row the document was read from, if any.
	Location string
	// Key is the key or full key path for the key lookup kinds.
	Key string
	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindNotFound:
		return fmt.Sprintf("test data file not found: %s", e.Location)
	case KindParseError:
		return fmt.Sprintf("failed to parse test data file %s: %v", e.Location, e.Err)
	case KindKeyNotFound:
		return fmt.Sprintf("key %q not found in test data %q", e.Key, e.Document)
	case KindKeyPathNotFound:
		return fmt.Sprintf("key path %q not found in test data %q", e.Key, e.Document)
	default:
		return fmt.Sprintf("test data error in %q", e.Document)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// KindOf returns the Kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var tdErr *Error
	if errors.As(err, &tdErr) {
		return tdErr.Kind
	}
	return 0
}

func notFound(name, location string) error {
	return &Error{Kind: KindNotFound, Document: name, Location: location}
}

func parseError(name, location string, cause error) error {
	return &Error{Kind: KindParseError, Document: name, Location: location, Err: cause}
}

func keyNotFound(name, key string) error {
	return &Error{Kind: KindKeyNotFound, Document: name, Key: key}
}

func keyPathNotFound(name, keyPath string) error {
	return &Error{Kind: KindKeyPathNotFound, Document: name, Key: keyPath}
}
