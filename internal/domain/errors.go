package domain

import "errors"

// Error taxonomy shared across services. Handlers map these to problem
// responses; everything else wraps them with context via %w.
var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("resource not found")
	ErrAuthorization     = errors.New("not authorized")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrAlreadyFinalized  = errors.New("transaction already finalized")
	ErrProvider          = errors.New("payment provider error")
	ErrChain             = errors.New("chain rpc error")
)
