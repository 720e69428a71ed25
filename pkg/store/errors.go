package store

import "fmt"

// StoreUnavailableError reports a vector store that could not be
// reached or answered with a backend failure. It is fatal for the
// current request and is not retried transparently.
type StoreUnavailableError struct {
	Op  string
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("vector store %s: %v", e.Op, e.Err)
}

func (e *StoreUnavailableError) Unwrap() error { return e.Err }

// ValidationError reports a malformed store call, such as mismatched
// parallel slice lengths.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("vector store validation: %s", e.Message)
}
