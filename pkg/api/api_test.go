package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dirsrv/pkg/directory"
	"dirsrv/pkg/dn"
	"dirsrv/pkg/partition/memory"
	"dirsrv/pkg/schema"
)

func testRouter(t *testing.T) (http.Handler, *JWTService) {
	t.Helper()
	s := schema.New()
	svc, err := directory.New(directory.Config{Schema: s, ChangelogEnabled: true})
	require.NoError(t, err)
	suffix, err := dn.Parse("ou=system", s.CanonicalName, s.NormalizeValue)
	require.NoError(t, err)
	require.NoError(t, svc.RegisterPartition(context.Background(), memory.New(suffix, s, nil)))

	jwtService := NewJWTService("test-secret", 0)
	return NewRouter(svc, jwtService), jwtService
}

func TestHealthz_Unauthenticated(t *testing.T) {
	router, _ := testRouter(t)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "normalization")
}

func TestLDIF_RequiresBearerToken(t *testing.T) {
	router, _ := testRouter(t)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/ldif", strings.NewReader("dn: ou=system\n")))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLDIF_AppliesWithValidToken(t *testing.T) {
	router, jwtService := testRouter(t)
	token, err := jwtService.Issue("uid=admin,ou=system")
	require.NoError(t, err)

	doc := "dn: ou=system\nobjectClass: top\nobjectClass: organizationalUnit\nou: system\n"
	req := httptest.NewRequest(http.MethodPost, "/v1/ldif", strings.NewReader(doc))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRevert_RejectsFutureRevision(t *testing.T) {
	router, jwtService := testRouter(t)
	token, err := jwtService.Issue("uid=admin,ou=system")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/revert", strings.NewReader(`{"revision": 999}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestJWT_TamperedTokenRejected(t *testing.T) {
	_, jwtService := testRouter(t)
	token, err := jwtService.Issue("uid=admin,ou=system")
	require.NoError(t, err)

	_, err = jwtService.Validate(token + "x")
	assert.Error(t, err)

	claims, err := jwtService.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "uid=admin,ou=system", claims.BindDN)
}
