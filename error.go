package blurb

import "errors"

var (
	ErrNoBackend          = errors.New("no backend selected")
	ErrMultipleBackends   = errors.New("multiple backends selected, only one allowed")
	ErrBackendUnavailable = errors.New("captioning backend is unavailable")
)
