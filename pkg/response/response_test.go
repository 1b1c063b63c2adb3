package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/servelist/backend/pkg/apperror"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(t *testing.T, err error) (*httptest.ResponseRecorder, Body) {
	t.Helper()
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	Error(c, err)

	var body Body
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func TestErrorMapsTaxonomy(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{apperror.ErrCapacityExceeded, http.StatusBadRequest, "CAPACITY_EXCEEDED"},
		{apperror.ErrDuplicateName, http.StatusBadRequest, "DUPLICATE_NAME"},
		{apperror.ErrInvalidCapacity, http.StatusBadRequest, "INVALID_CAPACITY"},
		{fmt.Errorf("delete: %w", apperror.ErrNotFound), http.StatusNotFound, "NOT_FOUND"},
		{apperror.ErrUnauthorized, http.StatusUnauthorized, "UNAUTHORIZED"},
		{apperror.ErrForbidden, http.StatusForbidden, "FORBIDDEN"},
		{apperror.ErrConnectionFailed, http.StatusServiceUnavailable, "CONNECTION_FAILED"},
	}
	for _, tc := range cases {
		rec, body := serve(t, tc.err)
		assert.Equal(t, tc.status, rec.Code, tc.code)
		assert.Equal(t, tc.code, body.Code)
		assert.False(t, body.Success)
		assert.Equal(t, tc.err.Error(), body.Error)
	}
}

func TestErrorHidesInternalDetails(t *testing.T) {
	rec, body := serve(t, errors.New("pq: connection reset by peer"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal error", body.Error)
	assert.Empty(t, body.Code)
}
