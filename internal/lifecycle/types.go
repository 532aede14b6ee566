package lifecycle

import (
	"fmt"
	"strings"
)

// CertificateType is the closed set of certificate kinds the contract accepts.
type CertificateType string

const (
	TypeDegree                CertificateType = "Degree"
	TypeDiploma               CertificateType = "Diploma"
	TypeProvisional           CertificateType = "Provisional"
	TypeTranscript            CertificateType = "Transcript"
	TypeCourseCompletion      CertificateType = "CourseCompletion"
	TypeConsolidatedMarksheet CertificateType = "ConsolidatedMarksheet"
	TypeRankCertificate       CertificateType = "RankCertificate"
	TypeParticipation         CertificateType = "Participation"
	TypeMerit                 CertificateType = "Merit"
	TypeCharacter             CertificateType = "Character"
)

var certificateTypes = []CertificateType{
	TypeDegree,
	TypeDiploma,
	TypeProvisional,
	TypeTranscript,
	TypeCourseCompletion,
	TypeConsolidatedMarksheet,
	TypeRankCertificate,
	TypeParticipation,
	TypeMerit,
	TypeCharacter,
}

// CertificateTypes returns every supported certificate type in contract order.
func CertificateTypes() []CertificateType {
	out := make([]CertificateType, len(certificateTypes))
	copy(out, certificateTypes)
	return out
}

// ParseCertificateType resolves a certificate type name, ignoring case and surrounding whitespace.
func ParseCertificateType(value string) (CertificateType, error) {
	trimmed := strings.TrimSpace(value)
	for _, candidate := range certificateTypes {
		if strings.EqualFold(string(candidate), trimmed) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("unknown certificate type %q", value)
}

func (t CertificateType) String() string {
	return string(t)
}

// Status is the lifecycle stage persisted on a certificate record.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusMinted   Status = "minted"
	StatusRejected Status = "rejected"
)

// ParseStatus validates a persisted status value.
func ParseStatus(value string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(value))) {
	case StatusPending:
		return StatusPending, nil
	case StatusApproved:
		return StatusApproved, nil
	case StatusMinted:
		return StatusMinted, nil
	case StatusRejected:
		return StatusRejected, nil
	default:
		return "", fmt.Errorf("unknown certificate status %q", value)
	}
}
