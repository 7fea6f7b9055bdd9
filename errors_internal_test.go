package otpauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDependencyError(t *testing.T) {
	err := dependencyError(fmt.Errorf("send: %w", context.DeadlineExceeded), "notifier", "unable to deliver code")

	assert.Equal(t, TextCodeNotificationFailed, err.TextCode)
	assert.Equal(t, http.StatusBadGateway, StatusFromError(err))
	assert.True(t, IsRetryable(err))
	assert.Equal(t, true, err.Metadata["timeout"])

	store := dependencyError(errors.New("connection refused"), "identity_store", "unable to load identity")
	assert.Equal(t, TextCodeDependencyFailed, store.TextCode)
	assert.Equal(t, http.StatusInternalServerError, StatusFromError(store))
	assert.Equal(t, false, store.Metadata["timeout"])
}

func TestClassifyStoreError(t *testing.T) {
	assert.NoError(t, classifyStoreError(nil, "pending_store", "get"))

	passthrough := classifyStoreError(ErrPendingNotFound, "pending_store", "get")
	assert.True(t, HasTextCode(passthrough, TextCodePendingNotFound))

	classified := classifyStoreError(errors.New("i/o timeout"), "pending_store", "get")
	require.Error(t, classified)
	assert.True(t, HasTextCode(classified, TextCodeDependencyFailed))
	assert.True(t, IsRetryable(classified))
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(errors.New("constraint failed: UNIQUE constraint failed: identities.email (2067)")))
	assert.True(t, isUniqueViolation(errors.New(`pq: duplicate key value violates unique constraint "identities_email_key"`)))
	assert.False(t, isUniqueViolation(errors.New("no such table: identities")))
	assert.False(t, isUniqueViolation(nil))
}
