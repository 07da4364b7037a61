package billing

import (
	"errors"
	"fmt"
)

// ErrDuplicateEvent is returned by Store.CreateWebhookLog when another worker
// already inserted a row for the same event id. The caller treats it as
// "already being processed" and acks without running any handler.
var ErrDuplicateEvent = errors.New("webhook event already recorded")

// ErrDuplicateRefund is returned by Store.CreateRefund when a refund for the
// same payment already exists.
var ErrDuplicateRefund = errors.New("refund already recorded for payment")

// HandlerError is a recoverable business failure inside an event handler.
// It is recorded on the webhook log row and the delivery is still acked;
// the row stays unprocessed so a provider redelivery retries it.
type HandlerError struct {
	Err error
}

func (e *HandlerError) Error() string {
	return e.Err.Error()
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

func handlerErrorf(format string, args ...interface{}) error {
	return &HandlerError{Err: fmt.Errorf(format, args...)}
}

// DatastoreError is a storage failure. It escalates as a delivery failure so
// the provider retries the whole event.
type DatastoreError struct {
	Op  string
	Err error
}

func (e *DatastoreError) Error() string {
	return fmt.Sprintf("datastore: %s: %v", e.Op, e.Err)
}

func (e *DatastoreError) Unwrap() error {
	return e.Err
}

func datastoreError(op string, err error) error {
	return &DatastoreError{Op: op, Err: err}
}

// IsDatastoreError reports whether err is (or wraps) a DatastoreError.
func IsDatastoreError(err error) bool {
	var de *DatastoreError
	return errors.As(err, &de)
}

// IsHandlerError reports whether err is (or wraps) a HandlerError.
func IsHandlerError(err error) bool {
	var he *HandlerError
	return errors.As(err, &he)
}
