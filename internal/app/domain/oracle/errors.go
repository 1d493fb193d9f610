package oracle

import "errors"

// Error kinds surfaced by the core. Every operation fails with one of these
// (possibly wrapped); on any error the shared state is unchanged.
var (
	ErrNotAuthorized       = errors.New("caller is not authorized")
	ErrAlreadyRegistered   = errors.New("source already registered")
	ErrSourceNotRegistered = errors.New("source not registered")
	ErrSourceSuspended     = errors.New("source is suspended")
	ErrInvalidPrice        = errors.New("price must be positive")
	ErrInsufficientData    = errors.New("insufficient submissions for consensus")
	ErrBelowMinimumQuorum  = errors.New("operation would drop active sources below quorum")
	ErrSubmissionsPaused   = errors.New("submissions are paused")
	ErrVerificationFailed  = errors.New("submission failed verification")
)
