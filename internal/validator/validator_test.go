package validator

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsSubmissionLink(t *testing.T) {
	cases := map[string]bool{
		"https://github.com/student/repo": true,
		"http://localhost:3000/demo":      true,
		"ftp://files.example.com/x":       false,
		"github.com/student/repo":         false,
		"https://":                        false,
		"https://exa mple.com":            false,
		"":                                false,
	}
	for raw, want := range cases {
		assert.Equal(t, want, IsSubmissionLink(raw), raw)
	}
}

type linkRequest struct {
	Link string `json:"link" binding:"required,submission_link"`
}

func TestBindTranslatesCustomRule(t *testing.T) {
	gin.SetMode(gin.TestMode)
	Setup()

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"link":"not a link"}`))
	c.Request.Header.Set("Content-Type", "application/json")

	var req linkRequest
	fields := Bind(c, &req)
	require.NotNil(t, fields)
	assert.Equal(t, "link must be a valid http or https link", fields["link"])

	assert.Nil(t, Struct(&linkRequest{Link: "https://example.com/work"}))
}
