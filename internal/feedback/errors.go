package feedback

import "errors"

// Sentinel kinds for correction errors.
var (
	ErrMissingCorrectionID = errors.New("missing correction id")
	ErrMissingSubject      = errors.New("missing subject id")
	ErrUnknownEntityKind   = errors.New("unknown entity kind")
	ErrMissingNewEntity    = errors.New("missing new entity id")
	ErrDuplicateCorrection = errors.New("correction already recorded")
)
