package repository

import "errors"

var (
	ErrNotFound      = errors.New("repository: not found")
	ErrAlreadyExists = errors.New("repository: already exists")
	// ErrConflict means a versioned write lost against a concurrent writer.
	ErrConflict = errors.New("repository: conflict")
	// ErrNoMatch means a conditional update matched no record.
	ErrNoMatch = errors.New("repository: condition not met")
)
