package response_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kiranshivaraju/modeltrain/internal/api/response"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	response.JSON(w, map[string]string{"trackingId": "abc"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "abc", body["trackingId"])
}

func TestJSON_EmptySlice(t *testing.T) {
	w := httptest.NewRecorder()
	response.JSON(w, []string{})

	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestStatus(t *testing.T) {
	w := httptest.NewRecorder()
	response.Status(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"status":"degraded"}`, w.Body.String())
}

func TestError(t *testing.T) {
	w := httptest.NewRecorder()
	response.Error(w, http.StatusBadRequest, response.CodeMissingName, "query parameter name is required", nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	errBody := body["error"].(map[string]any)
	assert.Equal(t, "MISSING_NAME", errBody["code"])
	assert.Equal(t, "query parameter name is required", errBody["message"])
	_, hasDetails := errBody["details"]
	assert.False(t, hasDetails, "details should be omitted when nil")
}

func TestError_WithDetails(t *testing.T) {
	w := httptest.NewRecorder()
	response.Error(w, http.StatusServiceUnavailable, response.CodeDispatchFailed, "could not queue job",
		map[string]string{"trackingId": "abc"})

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	details := body["error"].(map[string]any)["details"].(map[string]any)
	assert.Equal(t, "abc", details["trackingId"])
}
