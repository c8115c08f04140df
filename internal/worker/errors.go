package worker

import (
	"errors"
	"fmt"
)

// ErrNotClustered is returned by cluster queries on a source built without clustering.
var ErrNotClustered = errors.New("source is not clustered")

// ErrNoFetcher is returned when a request needs fetching but the source has no Fetcher.
var ErrNoFetcher = errors.New("no fetcher configured")

// InputError reports malformed GeoJSON. The source keeps its previous state.
type InputError struct {
	Source string
	Err    error
}

func (e InputError) Error() string {
	return fmt.Sprintf("input data given to %q is not a valid GeoJSON object: %v", e.Source, e.Err)
}

func (e InputError) Unwrap() error { return e.Err }

// DecodeError reports a tile payload that could not be decoded. The tile stays unloaded.
type DecodeError struct {
	UID UID
	Err error
}

func (e DecodeError) Error() string {
	return fmt.Sprintf("decoding tile %d: %v", e.UID, e.Err)
}

func (e DecodeError) Unwrap() error { return e.Err }

// IndexError reports a failed spatial index build. The previous index is kept.
type IndexError struct {
	Source string
	Err    error
}

func (e IndexError) Error() string {
	return fmt.Sprintf("indexing %q: %v", e.Source, e.Err)
}

func (e IndexError) Unwrap() error { return e.Err }
