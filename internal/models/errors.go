package models

import "errors"

// Domain errors shared across the store, collection source, and recovery
// packages. Callers distinguish true absence from transport failure with
// errors.Is; a wrapped driver error is never one of these.
var (
	ErrJobNotFound        = errors.New("cache job not found")
	ErrCollectionNotFound = errors.New("collection not found")
)
