package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/garvis/router/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// MockTokenValidator is a mock implementation of TokenValidator
type MockTokenValidator struct {
	mock.Mock
}

func (m *MockTokenValidator) ValidateToken(ctx context.Context, token string) (*Principal, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Principal), args.Error(1)
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) utils.ErrorResponse {
	t.Helper()
	var resp utils.ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp
}

func TestRequireAuth(t *testing.T) {
	logger := zap.NewNop()

	t.Run("valid token allows request", func(t *testing.T) {
		mockValidator := new(MockTokenValidator)
		principal := &Principal{Subject: "ops", Method: "static"}
		mockValidator.On("ValidateToken", mock.Anything, "valid-token").Return(principal, nil)

		handler := NewAuthMiddleware(mockValidator, logger).RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := GetPrincipalFromContext(r.Context())
			require.NotNil(t, got)
			assert.Equal(t, "ops", got.Subject)
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodPost, "/route", nil)
		req.Header.Set("Authorization", "Bearer valid-token")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		mockValidator.AssertExpectations(t)
	})

	t.Run("scheme is case insensitive", func(t *testing.T) {
		mockValidator := new(MockTokenValidator)
		mockValidator.On("ValidateToken", mock.Anything, "tok").Return(&Principal{Subject: "x"}, nil)

		handler := NewAuthMiddleware(mockValidator, logger).RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}))

		req := httptest.NewRequest(http.MethodPost, "/route", nil)
		req.Header.Set("Authorization", "bearer   tok ")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
	})

	tests := []struct {
		name     string
		header   string
		setup    func(*MockTokenValidator)
		wantCode string
	}{
		{
			name:     "missing header",
			header:   "",
			wantCode: "missing_token",
		},
		{
			name:     "wrong scheme",
			header:   "Basic dXNlcjpwYXNz",
			wantCode: "invalid_token",
		},
		{
			name:     "bearer without token",
			header:   "Bearer ",
			wantCode: "invalid_token",
		},
		{
			name:   "rejected token",
			header: "Bearer nope",
			setup: func(m *MockTokenValidator) {
				m.On("ValidateToken", mock.Anything, "nope").Return(nil, errors.New("unknown token"))
			},
			wantCode: "invalid_token",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockValidator := new(MockTokenValidator)
			if tt.setup != nil {
				tt.setup(mockValidator)
			}
			called := false
			handler := NewAuthMiddleware(mockValidator, logger).RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
			}))

			req := httptest.NewRequest(http.MethodPost, "/api/generate", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.False(t, called, "request must not reach the handler")
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.NotEmpty(t, w.Header().Get("WWW-Authenticate"))
			assert.Equal(t, tt.wantCode, decodeError(t, w).Code)
			mockValidator.AssertExpectations(t)
		})
	}
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		header string
		token  string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"BEARER abc", "abc", true},
		{"Bearer", "", false},
		{"Token abc", "", false},
		{"abc", "", false},
	}
	for _, tt := range tests {
		token, ok := extractBearerToken(tt.header)
		assert.Equal(t, tt.token, token, tt.header)
		assert.Equal(t, tt.ok, ok, tt.header)
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetRequestIDFromContext(ctx))
	assert.Nil(t, GetPrincipalFromContext(ctx))

	ctx = WithRequestID(ctx, "req-42")
	ctx = WithPrincipal(ctx, &Principal{Subject: "ops"})
	assert.Equal(t, "req-42", GetRequestIDFromContext(ctx))
	assert.Equal(t, "ops", GetPrincipalFromContext(ctx).Subject)
}
