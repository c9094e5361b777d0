package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollbook/internal/model"
)

const (
	testKey    = "test-signing-key"
	testIssuer = "test-idp"
)

type recordingSyncer struct {
	users []model.User
	err   error
}

func (s *recordingSyncer) SyncUser(_ context.Context, u model.User) error {
	s.users = append(s.users, u)
	return s.err
}

func TestIssueParseRoundTrip(t *testing.T) {
	p := Principal{ID: "u-1", Username: "teacher1", Name: "Teacher One", Role: model.RoleClassTeacher}
	token, exp, err := Issue(p, testIssuer, testKey, time.Minute)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Minute), exp, 5*time.Second)

	got, err := Parse(token, testKey, testIssuer)
	require.NoError(t, err)
	assert.Equal(t, p, got)

	_, err = Parse(token, "other-key", testIssuer)
	assert.Error(t, err)
	_, err = Parse(token, testKey, "someone-else")
	assert.Error(t, err)
}

func TestParseRejectsUnknownRole(t *testing.T) {
	claims := Claims{
		Role:             "janitor",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u-9", Issuer: testIssuer},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testKey))
	require.NoError(t, err)
	_, err = Parse(token, testKey, testIssuer)
	assert.EqualError(t, err, "unknown role")
}

func TestParseAcceptsLegacyTeacherRole(t *testing.T) {
	claims := Claims{
		Role:             "Class teacher",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u-2", Issuer: testIssuer},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testKey))
	require.NoError(t, err)
	p, err := Parse(token, testKey, testIssuer)
	require.NoError(t, err)
	assert.Equal(t, model.RoleClassTeacher, p.Role)
	assert.Equal(t, "u-2", p.Username)
}

func newRouter(sync Syncer, roles ...model.Role) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handlers := []gin.HandlerFunc{Bearer(testKey, testIssuer, sync)}
	if len(roles) > 0 {
		handlers = append(handlers, RequireRoles(roles...))
	}
	handlers = append(handlers, func(c *gin.Context) {
		p, _ := PrincipalFrom(c)
		c.JSON(http.StatusOK, gin.H{"id": p.ID, "role": p.Role})
	})
	r.GET("/me", handlers...)
	return r
}

func doRequest(r http.Handler, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestBearerMiddleware(t *testing.T) {
	sync := &recordingSyncer{}
	r := newRouter(sync)

	rec := doRequest(r, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(r, "not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, _, err := Issue(Principal{ID: "s-1", Username: "student1", Role: model.RoleStudent}, testIssuer, testKey, time.Minute)
	require.NoError(t, err)
	rec = doRequest(r, token)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":"s-1","role":"student"}`, rec.Body.String())
	require.Len(t, sync.users, 1)
	assert.Equal(t, "student1", sync.users[0].Username)
}

func TestBearerMiddlewareDirectoryFailure(t *testing.T) {
	r := newRouter(&recordingSyncer{err: errors.New("db down")})
	token, _, err := Issue(Principal{ID: "a-1", Role: model.RoleAdmin}, testIssuer, testKey, time.Minute)
	require.NoError(t, err)
	rec := doRequest(r, token)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRequireRoles(t *testing.T) {
	r := newRouter(nil, model.RoleAdmin, model.RoleClassTeacher)

	student, _, err := Issue(Principal{ID: "s-1", Role: model.RoleStudent}, testIssuer, testKey, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, doRequest(r, student).Code)

	teacher, _, err := Issue(Principal{ID: "t-1", Role: model.RoleClassTeacher}, testIssuer, testKey, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, doRequest(r, teacher).Code)
}
