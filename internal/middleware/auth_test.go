package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"couple-sync-backend/internal/services"

	"github.com/stretchr/testify/assert"
)

type fakeValidator struct {
	session *services.Session
	err     error
}

func (f fakeValidator) ValidateToken(ctx context.Context, token string) (*services.Session, error) {
	if token != "good" {
		return nil, services.ErrInvalidToken
	}
	return f.session, f.err
}

func TestAuthMiddleware(t *testing.T) {
	session := &services.Session{UserID: "u1", TokenID: "t1", ExpiresAt: time.Now().Add(time.Hour)}

	tests := []struct {
		name      string
		header    string
		validator fakeValidator
		want      int
	}{
		{"missing header", "", fakeValidator{session: session}, http.StatusUnauthorized},
		{"wrong scheme", "Basic good", fakeValidator{session: session}, http.StatusUnauthorized},
		{"bad token", "Bearer bad", fakeValidator{session: session}, http.StatusUnauthorized},
		{"store down", "Bearer good", fakeValidator{err: services.ErrTransientIO}, http.StatusServiceUnavailable},
		{"ok", "Bearer good", fakeValidator{session: session}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotUser string
			h := AuthMiddleware(tt.validator)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotUser = GetUserID(r.Context())
				assert.Same(t, session, GetSession(r.Context()))
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusOK {
				assert.Equal(t, "u1", gotUser)
			}
		})
	}
}

func TestGetUserID_NoSession(t *testing.T) {
	assert.Empty(t, GetUserID(context.Background()))
	assert.Nil(t, GetSession(context.Background()))
}
