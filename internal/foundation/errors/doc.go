// Package errors provides classified error primitives used across the event worker.
//
// A ClassifiedError carries a category (where it came from), a severity and a
// retry strategy. The retry strategy is decided by the layer that produced the
// error (message parsing, a handler, a store adapter) and is read by the retry
// policy, which never inspects error text.
//
// Example usage:
//
//	err := errors.HandlerError("record_count must be a number").
//		Permanent().
//		WithContext("event_type", "data_transformation").
//		Build()
package errors
