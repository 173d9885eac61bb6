package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRateLimiterRejectsBurst(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	r := gin.New()
	r.Use(rl.Middleware())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter(5, time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.allow("10.0.0.1"))
	now = now.Add(4 * time.Minute)
	assert.Equal(t, 1, rl.Cleanup())
}

func TestRequireTokenTypes(t *testing.T) {
	auth := service.NewAuthService(&config.Config{JWTSecret: "test-secret", JWTExpiry: time.Hour})
	student, err := auth.GenerateToken(service.TokenTypeStudent, 7, "Ada")
	require.NoError(t, err)
	instructor, err := auth.GenerateToken(service.TokenTypeInstructor, 1, "Grace")
	require.NoError(t, err)

	r := gin.New()
	r.GET("/student", RequireStudentJWT(auth), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"id": GetClaims(c).UserID})
	})
	r.GET("/instructor", RequireInstructorJWT(auth), func(c *gin.Context) { c.Status(http.StatusOK) })

	cases := []struct {
		path, header, query string
		want                int
	}{
		{"/student", "Bearer " + student, "", http.StatusOK},
		{"/student", "", student, http.StatusOK},
		{"/student", "", "", http.StatusUnauthorized},
		{"/student", "Bearer garbage", "", http.StatusUnauthorized},
		{"/student", "Bearer " + instructor, "", http.StatusForbidden},
		{"/instructor", "", instructor, http.StatusOK},
		{"/instructor", "Bearer " + student, "", http.StatusForbidden},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, tc.path, nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		if tc.query != "" {
			req.URL.RawQuery = "token=" + tc.query
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, tc.want, w.Code, "%s header=%q query=%q", tc.path, tc.header, tc.query)
	}
}
