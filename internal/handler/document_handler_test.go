package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/educert-api/internal/dto"
	"github.com/noah-isme/educert-api/internal/service"
)

type documentServiceStub struct {
	response dto.DocumentResponse
	err      error
	actor    service.Actor
	fileName string
}

func (d *documentServiceStub) Upload(_ context.Context, file *multipart.FileHeader, actor service.Actor) (dto.DocumentResponse, error) {
	d.actor = actor
	if file != nil {
		d.fileName = file.Filename
	}
	return d.response, d.err
}

func multipartBody(t *testing.T, field, name string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile(field, name)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func newDocumentApp(stub *documentServiceStub, role string) *fiber.App {
	app := fiber.New()
	NewDocumentHandler(stub, zerolog.Nop()).Register(app.Group("/api/certificates"), withActor(role, ""))
	return app
}

func TestDocumentHandlerUpload(t *testing.T) {
	stub := &documentServiceStub{response: dto.DocumentResponse{CID: "bafkreiexample", URL: "https://cdn.example.com/bafkreiexample.pdf", FileName: "degree.pdf"}}

	body, contentType := multipartBody(t, "file", "degree.pdf", []byte("%PDF-1.4"))
	req := httptest.NewRequest(http.MethodPost, "/api/certificates/documents", body)
	req.Header.Set("Content-Type", contentType)

	resp, err := newDocumentApp(stub, "admin").Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	require.Equal(t, "degree.pdf", stub.fileName)
	require.Equal(t, "admin", stub.actor.Role)

	payload := decodeResponse(t, resp)
	var document dto.DocumentResponse
	require.NoError(t, json.Unmarshal(payload.Data, &document))
	require.Equal(t, "bafkreiexample", document.CID)
}

func TestDocumentHandlerMissingFile(t *testing.T) {
	body, contentType := multipartBody(t, "attachment", "degree.pdf", []byte("%PDF-1.4"))
	req := httptest.NewRequest(http.MethodPost, "/api/certificates/documents", body)
	req.Header.Set("Content-Type", contentType)

	resp, err := newDocumentApp(&documentServiceStub{}, "admin").Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestDocumentHandlerServiceErrors(t *testing.T) {
	cases := []struct {
		name   string
		role   string
		err    error
		status int
	}{
		{"student", "student", nil, fiber.StatusForbidden},
		{"too large", "admin", service.ErrUploadTooLarge, fiber.StatusRequestEntityTooLarge},
		{"type", "admin", service.ErrUploadTypeNotAllowed, fiber.StatusUnsupportedMediaType},
		{"generic", "admin", errors.New("cdn down"), fiber.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body, contentType := multipartBody(t, "file", "scan.png", []byte("png"))
			req := httptest.NewRequest(http.MethodPost, "/api/certificates/documents", body)
			req.Header.Set("Content-Type", contentType)

			resp, err := newDocumentApp(&documentServiceStub{err: tc.err}, tc.role).Test(req)
			require.NoError(t, err)
			require.Equal(t, tc.status, resp.StatusCode)
		})
	}
}
