package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/procurio/be-po-approvals/internal/apperrors"
	"github.com/procurio/be-po-approvals/internal/logger"
)

func TestWriteErrorStatusMapping(t *testing.T) {
	h := NewHTTPHandler(nil, nil, nil, logger.Nop())

	cases := []struct {
		code apperrors.Code
		want int
	}{
		{apperrors.CodeValidation, http.StatusBadRequest},
		{apperrors.CodeUnauthorized, http.StatusForbidden},
		{apperrors.CodeNotFound, http.StatusNotFound},
		{apperrors.CodePolicyNotFound, http.StatusNotFound},
		{apperrors.CodeState, http.StatusConflict},
		{apperrors.CodeInvalidTransition, http.StatusConflict},
		{apperrors.CodeDuplicateDecision, http.StatusConflict},
		{apperrors.CodeRequestClosed, http.StatusConflict},
		{apperrors.CodeConcurrency, http.StatusConflict},
		{apperrors.CodeTolerance, http.StatusUnprocessableEntity},
		{apperrors.CodeNoUniquePolicy, http.StatusUnprocessableEntity},
		{apperrors.CodeIntegration, http.StatusBadGateway},
		{apperrors.CodeInternal, http.StatusInternalServerError},
	}

	for _, c := range cases {
		rec := httptest.NewRecorder()
		h.writeError(rec, apperrors.New(c.code, "boom"))
		assert.Equal(t, c.want, rec.Code, "code %s", c.code)

		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, string(c.code), body["code"])
	}
}

func TestWriteErrorUncodedErrorIsInternal(t *testing.T) {
	h := NewHTTPHandler(nil, nil, nil, logger.Nop())

	rec := httptest.NewRecorder()
	h.writeError(rec, assert.AnError)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
