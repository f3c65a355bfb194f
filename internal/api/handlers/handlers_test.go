package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentinel-lab/internal/domain/models"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{models.ErrInvalidIdentity, http.StatusNotFound},
		{fmt.Errorf("lookup: %w", models.ErrFindingNotFound), http.StatusNotFound},
		{models.ErrMitigationNotFound, http.StatusNotFound},
		{models.ErrTrainingInProgress, http.StatusConflict},
		{fmt.Errorf("%w: open -> open", models.ErrInvalidTransition), http.StatusConflict},
		{models.ErrInsufficientData, http.StatusUnprocessableEntity},
		{models.ErrModelNotTrained, http.StatusServiceUnavailable},
		{errors.New("connection reset"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func TestDecodeOptionalBody(t *testing.T) {
	var dst struct {
		Actor string `json:"actor"`
	}

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	require.NoError(t, decodeOptionalBody(req, &dst))
	assert.Empty(t, dst.Actor)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"actor":"ops"}`))
	require.NoError(t, decodeOptionalBody(req, &dst))
	assert.Equal(t, "ops", dst.Actor)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`))
	assert.Error(t, decodeOptionalBody(req, &dst))
}

func TestEventSchemaLoads(t *testing.T) {
	for _, name := range []string{"schemas/event.json", "schemas/batch.json"} {
		_, err := loadSchema(name)
		assert.NoError(t, err, name)
	}
}
