package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/soaringjerry/Checkin/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func identityEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := IdentityFromContext(r.Context())
		if !ok {
			_, _ = w.Write([]byte("anonymous"))
			return
		}
		_, _ = w.Write([]byte(id.UserID + "/" + string(id.Role)))
	})
}

func call(h http.Handler, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestWithAuthRoundTrip(t *testing.T) {
	tok, err := SignToken("c123", models.RoleCoach, time.Hour)
	require.NoError(t, err)

	rec := call(WithAuth(identityEcho()), tok)
	assert.Equal(t, "c123/coach", rec.Body.String())

	rec = call(WithAuth(identityEcho()), "garbage")
	assert.Equal(t, "anonymous", rec.Body.String())
}

func TestExpiredTokenIsIgnored(t *testing.T) {
	tok, err := SignToken("c123", models.RoleCoach, -time.Minute)
	require.NoError(t, err)
	rec := call(WithAuth(identityEcho()), tok)
	assert.Equal(t, "anonymous", rec.Body.String())
}

func TestSecretRotationInvalidatesTokens(t *testing.T) {
	t.Cleanup(func() { SetSecret("") })
	SetSecret("first")
	tok, err := SignToken("t1", models.RoleTrainee, time.Hour)
	require.NoError(t, err)
	SetSecret("second")
	rec := call(WithAuth(identityEcho()), tok)
	assert.Equal(t, "anonymous", rec.Body.String())
}

func TestRequireRole(t *testing.T) {
	coach, err := SignToken("c1", models.RoleCoach, time.Hour)
	require.NoError(t, err)
	trainee, err := SignToken("t1", models.RoleTrainee, time.Hour)
	require.NoError(t, err)
	h := WithAuth(RequireRole(models.RoleCoach)(identityEcho()))

	assert.Equal(t, http.StatusOK, call(h, coach).Code)
	assert.Equal(t, http.StatusForbidden, call(h, trainee).Code)
	rec := call(h, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), `"error":"unauthorized"`)

	assert.Equal(t, http.StatusOK, call(WithAuth(RequireAuth(identityEcho())), trainee).Code)
	assert.Equal(t, http.StatusUnauthorized, call(WithAuth(RequireAuth(identityEcho())), "").Code)
}

func TestCORSPreflight(t *testing.T) {
	h := CORS("https://app.example.com")(identityEcho())
	req := httptest.NewRequest(http.MethodOptions, "/api/templates", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "PATCH")
}

func TestHeaders(t *testing.T) {
	rec := call(NoStore(SecureHeaders(identityEcho())), "")
	assert.Equal(t, "no-store, max-age=0", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestLocaleMiddleware(t *testing.T) {
	var got string
	h := LocaleMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = LocaleFromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/?lang=zh-TW", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "zh", got)
	assert.Equal(t, "zh", rec.Header().Get("Content-Language"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Language", "fr")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "en", got)
}
