package errors

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKind_HTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, E(Invalid, "bad").Status())
	assert.Equal(t, http.StatusNotFound, E(NotFound, "missing").Status())
	assert.Equal(t, http.StatusInternalServerError, E(AtCapacity, "full").Status())
	assert.Equal(t, http.StatusInternalServerError, E(Internal, "boom").Status())
}

func TestE_MessageAndWrappedError(t *testing.T) {
	cause := errors.New("connection refused")
	err := E(Internal, "failed to connect", cause)

	assert.Equal(t, "failed to connect: connection refused", err.Error())
	assert.Equal(t, cause, errors.Unwrap(err))
}

func TestAsError(t *testing.T) {
	wrapped := E(NotFound, "session missing")

	found, ok := AsError(wrapped)
	require.True(t, ok)
	assert.Equal(t, NotFound, found.Kind)

	_, ok = AsError(errors.New("plain error"))
	assert.False(t, ok)
}

func TestValidationErrs_AccumulatesAndJoins(t *testing.T) {
	ve := ValidationErrs()
	assert.False(t, ve.HasErrors())
	assert.Nil(t, ve.Err())

	ve.Add("listen", "cannot be empty")
	ve.Add("capacity", "must be positive")

	require.True(t, ve.HasErrors())
	err := ve.Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen: cannot be empty")
	assert.Contains(t, err.Error(), "capacity: must be positive")
}

func TestEmptyParamErr(t *testing.T) {
	err := EmptyParamErr("id")
	assert.Equal(t, Invalid, err.Kind)
	assert.Contains(t, err.Error(), "id is required")
}
