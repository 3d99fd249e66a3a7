package review

import "errors"

var (
	// ErrApplicationNotFound is returned when an application id is unknown.
	ErrApplicationNotFound = errors.New("application not found")
	// ErrNotApplicant is returned when someone other than the applicant submits.
	ErrNotApplicant = errors.New("only the applicant can submit this application")
	// ErrActiveApplication is returned when the user already has an open application.
	ErrActiveApplication = errors.New("user already has an open application")
	// ErrPermanentlyRejected is returned when a permanently rejected user applies again.
	ErrPermanentlyRejected = errors.New("user is permanently rejected from this guild")
	// ErrMissingActor is returned when a transaction is attempted without an actor id.
	ErrMissingActor = errors.New("actor id is required")
)
