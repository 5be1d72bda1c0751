// Package domain defines the core types and interfaces for bareme.
package domain

import "errors"

var (
	// ErrNotFound indicates a record does not exist for the given scope.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidInput indicates a malformed request or value object.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConfiguration indicates configuration broken enough to abort a
	// whole computation (missing base amount, unresolvable tariff pairing).
	// Retrying without fixing the configuration reproduces the same error.
	ErrConfiguration = errors.New("configuration error")

	// ErrTreeLocked indicates an attempt to mutate a locked decision tree.
	// Locked trees evolve only through duplication.
	ErrTreeLocked = errors.New("decision tree is locked")
)
