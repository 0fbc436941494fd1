package signal

import "errors"

// Sentinel validation errors. Ingestion surfaces these to producers
// verbatim; none of them are ever clamped away.
var (
	ErrMissingSubject    = errors.New("missing subject id")
	ErrMissingEntity     = errors.New("missing entity id")
	ErrUnknownEntityKind = errors.New("unknown entity kind")
	ErrMissingKind       = errors.New("missing signal kind")
	ErrMissingSource     = errors.New("missing signal source")
	ErrConfidenceRange   = errors.New("raw confidence outside [0,1]")
)
