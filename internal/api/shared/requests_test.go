package shared

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleRequest struct {
	Name    string `json:"name"    validate:"required"`
	Email   string `json:"email"   validate:"required,email"`
	Percent int    `json:"percent" validate:"min=0,max=100"`
	Level   string `json:"level"   validate:"omitempty,oneof=LOW HIGH"`
}

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		wantErr     bool
		errContains string
	}{
		{name: "valid json", body: `{"name": "test", "percent": 30}`},
		{name: "invalid json", body: `{"name": "test",}`, wantErr: true, errContains: "invalid character"},
		{name: "empty body", body: "", wantErr: true, errContains: "EOF"},
		{name: "wrong type", body: `{"percent": 12.5}`, wantErr: true, errContains: "cannot unmarshal"},
		{name: "trailing data", body: `{"name": "a"} {"name": "b"}`, wantErr: true, errContains: "unexpected data"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.body))
			var target sampleRequest
			err := DecodeJSON(httptest.NewRecorder(), req, &target)
			if tc.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.errContains)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "test", target.Name)
		})
	}
}

func TestDecodeJSONTooLarge(t *testing.T) {
	body := `{"name": "` + strings.Repeat("x", MaxBodyBytes) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	var target sampleRequest
	assert.Error(t, DecodeJSON(httptest.NewRecorder(), req, &target))
}

func TestValidateRequestAndMessage(t *testing.T) {
	tests := []struct {
		name    string
		req     sampleRequest
		message string
	}{
		{"valid", sampleRequest{Name: "a", Email: "a@b.com", Percent: 10}, ""},
		{"missing name", sampleRequest{Email: "a@b.com"}, "Invalid name: required field"},
		{"bad email", sampleRequest{Name: "a", Email: "nope"}, "Invalid email: invalid email format"},
		{"percent high", sampleRequest{Name: "a", Email: "a@b.com", Percent: 101}, "Invalid percent: must be at most 100"},
		{"percent low", sampleRequest{Name: "a", Email: "a@b.com", Percent: -1}, "Invalid percent: must be at least 0"},
		{"bad level", sampleRequest{Name: "a", Email: "a@b.com", Level: "MID"}, "Invalid level: must be one of LOW HIGH"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateRequest(tc.req)
			if tc.message == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tc.message, ValidationMessage(err))
		})
	}
}

type selfValidating struct{ ok bool }

func (s selfValidating) Validate() error {
	if s.ok {
		return nil
	}
	return assert.AnError
}

func TestValidateRequestUsesValidateMethod(t *testing.T) {
	assert.NoError(t, ValidateRequest(selfValidating{ok: true}))
	assert.ErrorIs(t, ValidateRequest(selfValidating{}), assert.AnError)
	assert.Equal(t, "Validation error", ValidationMessage(assert.AnError))
}
