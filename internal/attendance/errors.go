package attendance

import "errors"

// Domain errors returned by Mark. All are recoverable conditions for the
// caller to translate; infrastructure failures are wrapped separately.
var (
	ErrStudentNotFound      = errors.New("student not found")
	ErrClassMismatch        = errors.New("student does not belong to this class")
	ErrLateArrivalsDisabled = errors.New("late arrivals are not allowed")
	ErrAlreadyMarked        = errors.New("attendance already marked for today")
)
