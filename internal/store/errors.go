package store

import "errors"

var (
	ErrConflict    = errors.New("conflict")
	ErrNotFound    = errors.New("not found")
	ErrNumberTaken = errors.New("appointment number taken")
	ErrStaleStatus = errors.New("status changed concurrently")
)
