package domain

import "errors"

// Common errors
var (
	ErrNotFound        = errors.New("record not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrInvalidState    = errors.New("invalid subscription state")

	// ErrManagedByProvider is returned for lifecycle changes that must go
	// through the provider's customer portal when the simulator is disabled.
	ErrManagedByProvider = errors.New("subscription is managed by the billing provider")
	ErrProvider          = errors.New("billing provider error")
	ErrWebhookRejected   = errors.New("webhook rejected")
)
