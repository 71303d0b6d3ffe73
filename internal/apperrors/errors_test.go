package apperrors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsKindThroughWrapping(t *testing.T) {
	err := fmt.Errorf("launch: %w", ErrNoRecipients)

	assert.True(t, IsKind(err, KindTargeting))
	assert.False(t, IsKind(err, KindValidation))

	appErr, ok := As(err)
	assert.True(t, ok)
	assert.Equal(t, http.StatusUnprocessableEntity, appErr.StatusCode())
}

func TestErrorMessageIncludesCause(t *testing.T) {
	err := New(KindReconciliation, "message not found", fmt.Errorf("wamid.X"))
	assert.Equal(t, "message not found: wamid.X", err.Error())
	assert.Equal(t, http.StatusInternalServerError, err.StatusCode())
}
