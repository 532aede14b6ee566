package service

import (
	"context"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/educert-api/internal/dto"
	"github.com/noah-isme/educert-api/internal/lifecycle"
	"github.com/noah-isme/educert-api/internal/models"
)

func TestStudentRegister(t *testing.T) {
	h := newHarness(t)

	created, err := h.studentSvc.Register(context.Background(), dto.StudentRegisterRequest{
		StudentID:     "21CS050",
		Name:          "<i>Asha Rao</i>",
		Email:         "Asha@Example.edu",
		Department:    "Computer Science",
		YearOfPassing: 2025,
	})
	require.NoError(t, err)
	require.Equal(t, "Asha Rao", created.Name)
	require.Equal(t, "asha@example.edu", created.Email)
	require.Equal(t, models.EligibilityPending, created.EligibilityStatus)
	require.Empty(t, created.WalletAddress)

	_, err = h.studentSvc.Register(context.Background(), dto.StudentRegisterRequest{
		StudentID: "21CS051", Name: "Other", Email: "asha@example.edu", Department: "CSE", YearOfPassing: 2025,
	})
	require.ErrorIs(t, err, ErrStudentExists)

	_, err = h.studentSvc.Register(context.Background(), dto.StudentRegisterRequest{
		StudentID: "21CS050", Name: "Other", Email: "other@example.edu", Department: "CSE", YearOfPassing: 2025,
	})
	require.ErrorIs(t, err, ErrStudentExists)

	_, err = h.studentSvc.Register(context.Background(), dto.StudentRegisterRequest{
		StudentID: "21CS052", Name: "Bad", Email: "not-an-email", Department: "CSE", YearOfPassing: 2025,
	})
	var validationErrs validator.ValidationErrors
	require.ErrorAs(t, err, &validationErrs)
}

func TestStudentListFiltersAndPaginates(t *testing.T) {
	h := newHarness(t)
	for _, id := range []string{"21CS060", "21CS061", "21CS062"} {
		h.register(t, id)
	}
	_, err := h.studentSvc.Register(context.Background(), dto.StudentRegisterRequest{
		StudentID: "21ME001", Name: "Mech Student", Email: "me@example.edu", Department: "Mechanical", YearOfPassing: 2024,
	})
	require.NoError(t, err)
	h.approve(t, "21CS061", lifecycle.TypeDegree)

	all, err := h.studentSvc.List(context.Background(), dto.StudentListRequest{})
	require.NoError(t, err)
	require.Equal(t, int64(4), all.Pagination.TotalItems)
	require.Equal(t, 20, all.Pagination.PageSize)

	paged, err := h.studentSvc.List(context.Background(), dto.StudentListRequest{Page: 2, PageSize: 3})
	require.NoError(t, err)
	require.Equal(t, 1, paged.Count)
	require.Equal(t, 2, paged.Pagination.TotalPages)

	mech, err := h.studentSvc.List(context.Background(), dto.StudentListRequest{Department: "Mechanical"})
	require.NoError(t, err)
	require.Equal(t, 1, mech.Count)
	require.Equal(t, "21ME001", mech.Students[0].StudentID)

	approved, err := h.studentSvc.List(context.Background(), dto.StudentListRequest{Status: "approved"})
	require.NoError(t, err)
	require.Equal(t, 1, approved.Count)
	require.Equal(t, "21CS061", approved.Students[0].StudentID)
	require.Len(t, approved.Students[0].Certificates, 1)

	search, err := h.studentSvc.List(context.Background(), dto.StudentListRequest{Search: "21cs06"})
	require.NoError(t, err)
	require.Equal(t, 3, search.Count)

	_, err = h.studentSvc.List(context.Background(), dto.StudentListRequest{Status: "archived"})
	var validationErrs validator.ValidationErrors
	require.ErrorAs(t, err, &validationErrs)
}

func TestStudentGetIncludesSnapshot(t *testing.T) {
	h := newHarness(t)
	h.register(t, "21CS070")
	h.approve(t, "21CS070", lifecycle.TypeTranscript)

	detail, err := h.studentSvc.Get(context.Background(), studentActor("21CS070"), "21CS070")
	require.NoError(t, err)
	require.Len(t, detail.Certificates, 1)
	require.True(t, detail.Certificates[0].ChainChecked)
	require.Len(t, detail.Eligibility, len(lifecycle.CertificateTypes()))

	byType := map[string]dto.ChainEligibility{}
	for _, entry := range detail.Eligibility {
		require.Equal(t, dto.SourceChain, entry.Source)
		byType[entry.CertificateType] = entry
	}
	require.True(t, byType["Transcript"].Allowed)
	require.Equal(t, "B.Tech Computer Science", byType["Transcript"].CourseName)
	require.False(t, byType["Degree"].Allowed)

	_, err = h.studentSvc.Get(context.Background(), studentActor("21CS071"), "21CS070")
	require.ErrorIs(t, err, ErrForbidden)

	_, err = h.studentSvc.Get(context.Background(), adminActor, "ghost")
	require.ErrorIs(t, err, ErrStudentNotFound)
}

func TestStudentGetLedgerDown(t *testing.T) {
	h := newHarness(t)
	h.register(t, "21CS072")
	h.approve(t, "21CS072", lifecycle.TypeDegree)
	h.ledger.SetUnavailable(true)

	detail, err := h.studentSvc.Get(context.Background(), adminActor, "21CS072")
	require.NoError(t, err)
	require.Equal(t, "approved", detail.Certificates[0].Status)
	require.False(t, detail.Certificates[0].ChainChecked)
	for _, entry := range detail.Eligibility {
		require.Equal(t, dto.SourceUnavailable, entry.Source)
	}
	require.Equal(t, 1, h.ledger.Calls("getStudentEligibility"))
}

func TestStudentApproveReusesOpenCertificate(t *testing.T) {
	h := newHarness(t)
	student := h.register(t, "21CS073")
	pending := h.storeCertificate(t, student, lifecycle.Pending{Details: lifecycle.Details{Type: lifecycle.TypeMerit, CourseName: "Olympiad", Grade: "Gold"}})

	approved, err := h.studentSvc.Approve(context.Background(), adminActor, "21CS073", dto.ApproveStudentRequest{
		CertificateType: "Merit", CourseName: "Ignored", Grade: "Silver",
	})
	require.NoError(t, err)
	require.Equal(t, pending.ID, approved.ID)
	require.Equal(t, "approved", approved.Status)
	require.Equal(t, "Olympiad", approved.CourseName)

	h.storeCertificate(t, student, lifecycle.Minted{
		Details:  lifecycle.Details{Type: lifecycle.TypeDegree, CourseName: "CSE", Grade: "A"},
		MintedAt: time.Unix(1700000000, 0).UTC(),
	})
	_, err = h.studentSvc.Approve(context.Background(), adminActor, "21CS073", dto.ApproveStudentRequest{
		CertificateType: "Degree", CourseName: "CSE", Grade: "A",
	})
	require.ErrorIs(t, err, ErrCertificateExists)
}

func TestStudentRevokeRejectsOpenCertificates(t *testing.T) {
	h := newHarness(t)
	student := h.register(t, "21CS074")
	h.approve(t, "21CS074", lifecycle.TypeDegree)
	h.storeCertificate(t, student, lifecycle.Minted{
		Details:  lifecycle.Details{Type: lifecycle.TypeTranscript, CourseName: "CSE", Grade: "A"},
		MintedAt: time.Unix(1700000000, 0).UTC(),
		TxHash:   "0x01",
	})

	revoked, err := h.studentSvc.Revoke(context.Background(), adminActor, "21CS074")
	require.NoError(t, err)
	require.Equal(t, models.EligibilityRejected, revoked.EligibilityStatus)

	statuses := map[string]string{}
	for _, certificate := range revoked.Certificates {
		statuses[certificate.CertificateType] = certificate.Status
	}
	require.Equal(t, "rejected", statuses["Degree"])
	require.Equal(t, "minted", statuses["Transcript"])

	eligibility, err := h.ledger.CanMint(context.Background(), "21CS074", "Degree")
	require.NoError(t, err)
	require.False(t, eligibility.Allowed)

	events := h.events.all()
	require.Equal(t, "rejected", events[len(events)-1].Status)
}

func TestStudentUpdateWallet(t *testing.T) {
	h := newHarness(t)
	h.register(t, "21CS075")

	updated, err := h.studentSvc.UpdateWallet(context.Background(), studentActor("21CS075"), "21CS075", dto.WalletUpdateRequest{
		WalletAddress: "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed",
	})
	require.NoError(t, err)
	require.Equal(t, "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", updated.WalletAddress)

	stored := loadStudent(t, h, "21CS075")
	require.Equal(t, "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", stored.WalletAddress)

	_, err = h.studentSvc.UpdateWallet(context.Background(), studentActor("21CS075"), "21CS075", dto.WalletUpdateRequest{
		WalletAddress: "0x5AAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
	})
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = h.studentSvc.UpdateWallet(context.Background(), studentActor("21CS075"), "21CS075", dto.WalletUpdateRequest{
		WalletAddress: "0x1234",
	})
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = h.studentSvc.UpdateWallet(context.Background(), studentActor("21CS076"), "21CS075", dto.WalletUpdateRequest{
		WalletAddress: "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed",
	})
	require.ErrorIs(t, err, ErrForbidden)
}
