package domain

import "errors"

var (
	// ErrValidation marks caller input that failed validation.
	ErrValidation = errors.New("validation error")

	// ErrNotFound marks a missing entity.
	ErrNotFound = errors.New("not found")

	// ErrConflict marks a state transition refused because the entity moved on.
	ErrConflict = errors.New("conflict")

	// ErrQueueFull is returned when the admission counter denies new work.
	ErrQueueFull = errors.New("delivery queue is full")

	// ErrRuleNotFound is returned when the triggered rule does not exist or is disabled.
	ErrRuleNotFound = errors.New("alert rule not found")

	// ErrNoChannels is returned when a rule has no enabled channels to route to.
	ErrNoChannels = errors.New("alert rule has no enabled channels")
)
