package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfWrapped(t *testing.T) {
	err := fmt.Errorf("send: %w", Forbidden("not a participant"))

	assert.Equal(t, KindForbidden, KindOf(err))
	assert.Equal(t, "not a participant", MessageOf(err))
	assert.True(t, Is(err, KindForbidden))
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.Equal(t, Kind(""), KindOf(nil))
	assert.Equal(t, "internal error", MessageOf(errors.New("boom")))
}

func TestPersistenceUnwraps(t *testing.T) {
	cause := errors.New("connection reset")
	err := Persistence(cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, KindPersistenceFailed, KindOf(err))
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusUnauthorized, HTTPStatus(KindAuthFailed))
	assert.Equal(t, http.StatusForbidden, HTTPStatus(KindForbidden))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(KindNotFound))
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(KindValidationFailed))
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatus(KindPersistenceFailed))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(KindInternal))
}
