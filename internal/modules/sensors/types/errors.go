package types

import (
	"errors"
	"fmt"
)

var (
	// ErrParse marks a malformed topic or payload on the ingestion path.
	ErrParse = errors.New("parse error")
	// ErrStorage marks a failure of the underlying database.
	ErrStorage = errors.New("storage error")
	// ErrInvalidParameter marks a query parameter outside its allowed range.
	ErrInvalidParameter = errors.New("invalid parameter")
	// ErrNotFound marks a valid request that matched no data.
	ErrNotFound = errors.New("not found")
)

type InvalidParameterError struct {
	Name   string
	Value  string
	Reason string
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("invalid %s parameter %q: %s", e.Name, e.Value, e.Reason)
}

func (e *InvalidParameterError) Is(target error) bool {
	return target == ErrInvalidParameter
}

func StorageError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}
