package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/educert-api/internal/chain"
	"github.com/noah-isme/educert-api/internal/dto"
	"github.com/noah-isme/educert-api/internal/service"
)

type mintServiceStub struct {
	result dto.MintResponse
	err    error
	actor  service.Actor
	req    dto.MintRequest
}

func (m *mintServiceStub) SubmitMint(_ context.Context, actor service.Actor, req dto.MintRequest) (dto.MintResponse, error) {
	m.actor = actor
	m.req = req
	return m.result, m.err
}

func postMint(t *testing.T, stub *mintServiceStub, body string) *http.Response {
	t.Helper()

	app := fiber.New()
	NewMintHandler(stub, zerolog.Nop()).Register(app.Group("/api/certificates"), withActor("student", "21CS001"))

	req := httptest.NewRequest(http.MethodPost, "/api/certificates/mint", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp
}

func TestMintHandlerSuccess(t *testing.T) {
	stub := &mintServiceStub{result: dto.MintResponse{
		StudentID:       "21CS001",
		CertificateType: "Degree",
		TransactionHash: "0x01",
		TokenID:         "7",
		BackendSynced:   true,
	}}

	resp := postMint(t, stub, `{"studentId":"21CS001","certificateType":"Degree"}`)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, "21CS001", stub.req.StudentID)
	require.Equal(t, "21CS001", stub.actor.StudentID)

	payload := decodeResponse(t, resp)
	var minted dto.MintResponse
	require.NoError(t, json.Unmarshal(payload.Data, &minted))
	require.Equal(t, "7", minted.TokenID)
	require.True(t, minted.BackendSynced)
}

func TestMintHandlerErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"in flight", service.ErrAlreadyInFlight, fiber.StatusConflict},
		{"not eligible", &service.NotEligibleError{Reason: "already minted"}, fiber.StatusForbidden},
		{"ledger down", chain.ErrUnavailable, fiber.StatusServiceUnavailable},
		{"other student", service.ErrForbidden, fiber.StatusForbidden},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := postMint(t, &mintServiceStub{err: tc.err}, `{"studentId":"21CS001","certificateType":"Degree"}`)
			require.Equal(t, tc.status, resp.StatusCode)
			require.False(t, decodeResponse(t, resp).Success)
		})
	}
}

func TestMintHandlerRejectsMalformedBody(t *testing.T) {
	stub := &mintServiceStub{}
	resp := postMint(t, stub, `{"studentId":`)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	require.Empty(t, stub.req.StudentID)
}
