package store

import "errors"

var (
	ErrNotFound      = errors.New("record not found")
	ErrInvalidAction = errors.New("invalid capture action")
	ErrDuplicateID   = errors.New("duplicate capture id")
)
