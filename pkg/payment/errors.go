package payment

import "errors"

var (
	ErrUnauthorized  = errors.New("unauthorized")
	ErrValidation    = errors.New("validation failed")
	ErrNotFound      = errors.New("not found")
	ErrSignature     = errors.New("webhook signature verification failed")
	ErrEventInFlight = errors.New("webhook event is already being processed")
)
