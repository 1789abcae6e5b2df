package domain

import "errors"

// Domain errors
var (
	ErrPlayerNotFound = errors.New("player not found")
	ErrFlagNotFound   = errors.New("profile flag not found")
	ErrInvalidItem    = errors.New("invalid inventory item")
	ErrRateLimited    = errors.New("rate limit exceeded")
	ErrUnknownCommand = errors.New("unknown command keyword")
	ErrNoThread       = errors.New("thread context unavailable")
)
