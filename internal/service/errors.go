package service

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput indicates a request failed domain validation.
	ErrInvalidInput = errors.New("invalid input")
	// ErrStudentNotFound indicates the student does not exist.
	ErrStudentNotFound = errors.New("student not found")
	// ErrStudentExists indicates the student id or email is already registered.
	ErrStudentExists = errors.New("student with the same id or email already exists")
	// ErrCertificateNotFound indicates the certificate does not exist.
	ErrCertificateNotFound = errors.New("certificate not found")
	// ErrCertificateExists indicates the student already holds a certificate of that type.
	ErrCertificateExists = errors.New("certificate of this type already exists for the student")
	// ErrCertificateNotMinted indicates the operation needs a minted certificate.
	ErrCertificateNotMinted = errors.New("certificate has not been minted")
	// ErrForbidden indicates the actor may not act for the requested student.
	ErrForbidden = errors.New("not allowed to act for this student")
	// ErrAlreadyInFlight indicates another mint for the pair has not finished yet.
	ErrAlreadyInFlight = errors.New("a mint for this certificate is already in progress, please wait")
)

// NotEligibleError is a ledger-asserted ineligibility. The reason is shown verbatim.
type NotEligibleError struct {
	Reason string
}

func (e *NotEligibleError) Error() string {
	if e.Reason == "" {
		return "student is not eligible to mint this certificate"
	}
	return e.Reason
}

// BackendSyncError reports a backend write that failed after the ledger
// operation already succeeded. The ledger side is never retried.
type BackendSyncError struct {
	StudentID       string
	CertificateType string
	Err             error
}

func (e *BackendSyncError) Error() string {
	return fmt.Sprintf("backend sync failed for %s/%s: %v", e.StudentID, e.CertificateType, e.Err)
}

func (e *BackendSyncError) Unwrap() error {
	return e.Err
}

func invalidInput(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
