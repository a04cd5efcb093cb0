package dispatch

import (
	"errors"
	"fmt"

	"github.com/wallace-lab/wallace/internal/models"
)

// ErrEmptyResult is returned when a create handler declined to create an
// entity. It is not a failure.
var ErrEmptyResult = errors.New("empty result")

// Class categorizes a rejected request. The value is reported to the caller
// as error_type.
type Class string

const (
	// ClassParticipantMissing: no participant_id parameter.
	ClassParticipantMissing Class = "participant_missing"
	// ClassParticipantNotFound: participant_id matches no participant.
	ClassParticipantNotFound Class = "participant_not_found"
	// ClassParticipantDuplicate: participant_id matches several participants.
	ClassParticipantDuplicate Class = "participant_duplicate"
	// ClassMissingField: a required parameter is absent.
	ClassMissingField Class = "missing_field"
	// ClassMalformedField: a parameter is present but unusable.
	ClassMalformedField Class = "malformed_field"
	// ClassUntrustedType: a type name is not in the registry.
	ClassUntrustedType Class = "untrusted_type"

	ClassAlreadySubmitted Class = "already_submitted"
	ClassReturned         Class = "returned"
	ClassExpired          Class = "expired"
	ClassReassigned       Class = "reassigned"
	ClassInvalidStatus    Class = "invalid_status"

	// ClassOperationFailed: the experiment handler failed. Details are
	// logged, never reported.
	ClassOperationFailed Class = "operation_failed"
)

// RequestError is a request rejected by validation or a failed handler.
type RequestError struct {
	Class Class
	// Field names the offending parameter, when there is one.
	Field   string
	Message string
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field=%s)", e.Class, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Class, e.Message)
}

// IsClass reports whether err is a RequestError of the given class.
// Uses errors.As to handle wrapped errors.
func IsClass(err error, class Class) bool {
	var re *RequestError
	if errors.As(err, &re) {
		return re.Class == class
	}
	return false
}

// ClassOf returns the class of a RequestError, or "" for other errors.
func ClassOf(err error) Class {
	var re *RequestError
	if errors.As(err, &re) {
		return re.Class
	}
	return ""
}

func missingField(field string) *RequestError {
	return &RequestError{Class: ClassMissingField, Field: field, Message: field + " not specified"}
}

func malformedField(field, value, want string) *RequestError {
	return &RequestError{
		Class:   ClassMalformedField,
		Field:   field,
		Message: fmt.Sprintf("%s %q is not %s", field, value, want),
	}
}

func operationFailed(op string) *RequestError {
	return &RequestError{Class: ClassOperationFailed, Message: op + " failed"}
}

// statusError explains why a participant at status s may not create entities.
func statusError(s models.Status) *RequestError {
	var class Class
	var msg string
	switch s.Classify() {
	case models.ClassSubmitted:
		class, msg = ClassAlreadySubmitted, "the assignment has already been submitted"
	case models.ClassReturned:
		class, msg = ClassReturned, "the assignment has been returned"
	case models.ClassExpired:
		class, msg = ClassExpired, "the assignment has expired"
	case models.ClassReassigned:
		class, msg = ClassReassigned, "the assignment has been assigned to someone else"
	default:
		class, msg = ClassInvalidStatus, "participant status does not allow this request"
	}
	return &RequestError{Class: class, Field: "participant_id", Message: fmt.Sprintf("%s (status %d)", msg, int(s))}
}
