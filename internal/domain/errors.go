package domain

import (
	"errors"
	"fmt"
)

// ValidationError rejects an input synchronously; nothing was mutated.
type ValidationError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %v: %s", e.Field, e.Value, e.Reason)
}

// FetchError is a price-source failure for one catalog id.
type FetchError struct {
	CatalogID int64
	Err       error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch catalog_id=%d: %v", e.CatalogID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// DeliveryError is a notification that could not be delivered.
type DeliveryError struct {
	SubscriberID int64
	Err          error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to user_id=%d: %v", e.SubscriberID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// StoreError wraps a persistence failure with the operation that hit it.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// ErrNotFound is returned by lookups of absent users or items.
var ErrNotFound = errors.New("not found")

// IsValidation reports whether err carries a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
