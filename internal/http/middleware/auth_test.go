package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/lumenchat/lumen-backend/internal/platform/ctxutil"
	"github.com/lumenchat/lumen-backend/internal/platform/logger"
	"github.com/lumenchat/lumen-backend/internal/services"
)

func newAuthTestRouter(t *testing.T) (*gin.Engine, services.AuthService, *uuid.UUID) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	t.Cleanup(log.Sync)

	authSvc, err := services.NewAuthService(log, "test-secret", time.Hour)
	if err != nil {
		t.Fatalf("new auth service: %v", err)
	}

	var seenUser uuid.UUID
	r := gin.New()
	r.GET("/protected", NewAuthMiddleware(log, authSvc).RequireAuth(), func(c *gin.Context) {
		rd := ctxutil.GetRequestData(c.Request.Context())
		seenUser = rd.UserID
		c.String(http.StatusOK, "ok")
	})
	return r, authSvc, &seenUser
}

func TestRequireAuthAcceptsBearerHeader(t *testing.T) {
	r, authSvc, seenUser := newAuthTestRouter(t)
	userID := uuid.New()
	token, err := authSvc.IssueAccessToken(userID)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if *seenUser != userID {
		t.Fatalf("request data user=%s want %s", *seenUser, userID)
	}
}

func TestRequireAuthAcceptsTokenQueryParam(t *testing.T) {
	r, authSvc, seenUser := newAuthTestRouter(t)
	userID := uuid.New()
	token, err := authSvc.IssueAccessToken(userID)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected?token="+token, nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if *seenUser != userID {
		t.Fatalf("request data user=%s want %s", *seenUser, userID)
	}
}

func TestRequireAuthRejectsMissingAndBadTokens(t *testing.T) {
	r, _, _ := newAuthTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("missing token: status=%d", w.Code)
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token: status=%d", w.Code)
	}
}
