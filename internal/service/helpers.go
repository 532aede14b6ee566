package service

import (
	"errors"
	"strings"

	"github.com/ipfs/go-cid"
	"gorm.io/gorm"

	"github.com/noah-isme/educert-api/internal/lifecycle"
)

// Actor is the authenticated principal performing an action.
type Actor struct {
	ID        string
	Role      string
	StudentID string
}

// SystemActor is used for background corrections.
var SystemActor = Actor{ID: "system", Role: "system"}

// IsAdmin reports whether the actor has administrative rights.
func (a Actor) IsAdmin() bool {
	return strings.EqualFold(strings.TrimSpace(a.Role), "admin")
}

// CanActFor reports whether the actor may act on behalf of studentID.
func (a Actor) CanActFor(studentID string) bool {
	return a.IsAdmin() || (a.StudentID != "" && a.StudentID == studentID)
}

func parseType(raw string) (lifecycle.CertificateType, error) {
	certType, err := lifecycle.ParseCertificateType(raw)
	if err != nil {
		return "", invalidInput("%v", err)
	}
	return certType, nil
}

// validateIPFSHash accepts an empty hash or any CIDv0/CIDv1 string.
func validateIPFSHash(hash string) error {
	hash = strings.TrimSpace(hash)
	if hash == "" {
		return nil
	}
	if _, err := cid.Decode(hash); err != nil {
		return invalidInput("ipfs hash %q is not a valid CID", hash)
	}
	return nil
}

func notFound(err error, target error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return target
	}
	return err
}
