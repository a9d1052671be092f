package pipeline

import (
	"errors"
	"fmt"
)

// Kind classifies pipeline failures so transport layers can map them
// to status codes without string matching.
type Kind string

const (
	KindInvalidQuery        Kind = "invalid_query"
	KindIndexUnready        Kind = "index_unready"
	KindEmbeddingFailure    Kind = "embedding_failure"
	KindGenerationFailure   Kind = "generation_failure"
	KindDocumentUnavailable Kind = "document_unavailable"
	KindInternal            Kind = "internal"
)

// Error is a classified pipeline failure.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the classification of err, or KindInternal when err
// is not a pipeline error.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindInternal
}
