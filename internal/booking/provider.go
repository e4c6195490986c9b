// Package booking executes validated appointment operations against an
// appointment provider.
package booking

import (
	"context"
	"errors"
	"fmt"

	"github.com/wolfman30/patientpal/internal/operations"
)

// Result carries an operation's return values in the order of the
// definition's result fields.
type Result struct {
	Values []string
}

// Provider is a concrete appointment book. Implementations execute each call
// at most once and never retry.
type Provider interface {
	Name() string
	Execute(ctx context.Context, op operations.Operation) (Result, error)
}

// Cause classifies a backend failure.
type Cause string

const (
	CauseTimeout         Cause = "timeout"
	CauseTransport       Cause = "transport"
	CauseRejected        Cause = "rejected"
	CauseNotImplemented  Cause = "not_implemented"
	CauseInvalidResponse Cause = "invalid_response"
	CauseDuplicate       Cause = "duplicate"
)

// Error is a failed backend operation. Message is safe to show to users
// when Cause is CauseRejected.
type Error struct {
	Operation operations.Name
	Cause     Cause
	Message   string
	Err       error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("booking: %s %s", e.Operation, e.Cause)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// CauseOf returns the cause of a booking error, or "" for other errors.
func CauseOf(err error) Cause {
	var berr *Error
	if errors.As(err, &berr) {
		return berr.Cause
	}
	return ""
}

func rejected(op operations.Name, format string, args ...any) *Error {
	return &Error{Operation: op, Cause: CauseRejected, Message: fmt.Sprintf(format, args...)}
}

func notImplemented(op operations.Name) *Error {
	return &Error{Operation: op, Cause: CauseNotImplemented, Message: "not yet implemented"}
}

// Appointment is a booked visit. Date and Time use the canonical
// 2006-01-02 and 15:04 layouts.
type Appointment struct {
	ID          string `json:"id"`
	DoctorName  string `json:"doctor_name"`
	Specialty   string `json:"specialty"`
	Date        string `json:"date"`
	Time        string `json:"time"`
	PatientName string `json:"patient_name"`
	PatientID   string `json:"patient_id"`
}

// Values lists the appointment in GET_APPOINTMENT_DETAILS result order.
func (a Appointment) Values() []string {
	return []string{a.ID, a.DoctorName, a.Specialty, a.Date, a.Time, a.PatientName, a.PatientID}
}
