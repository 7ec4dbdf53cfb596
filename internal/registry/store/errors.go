package store

import "fmt"

// NotFoundError indicates the record does not exist in the structured store.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// PrimaryStoreError indicates a failure in the authoritative store. These are
// fatal for the calling operation; no fan-out proceeds past them.
type PrimaryStoreError struct {
	Op  string
	Err error
}

func (e *PrimaryStoreError) Error() string {
	return fmt.Sprintf("primary store %s: %v", e.Op, e.Err)
}

func (e *PrimaryStoreError) Unwrap() error { return e.Err }
