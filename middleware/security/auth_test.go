package security

import (
	"net/http"
	"net/http/httptest"
	"testing"

	jwtsec "PPresence/tools/security"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareSetsIdentity(t *testing.T) {
	gin.SetMode(gin.TestMode)
	jwt := jwtsec.DefaultOptions([]byte("k"))
	tok, _, err := jwtsec.Generate(jwt, "u1", "Ann", "")
	require.NoError(t, err)

	opts := DefaultOptions(jwt)
	opts.QueryToken = "token"
	r := gin.New()
	r.GET("/me", Middleware(opts), func(c *gin.Context) {
		id, _ := Identity(c)
		cl, ok := Claims(c)
		require.True(t, ok)
		c.String(http.StatusOK, id+"/"+cl.Name)
	})

	cases := []struct {
		name  string
		build func(*http.Request)
		code  int
	}{
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+tok) }, http.StatusOK},
		{"query", func(r *http.Request) { r.URL.RawQuery = "token=" + tok }, http.StatusOK},
		{"missing", func(*http.Request) {}, http.StatusUnauthorized},
		{"bad", func(r *http.Request) { r.Header.Set("Authorization", "Bearer x.y.z") }, http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			tc.build(req)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.code, w.Code)
			if tc.code == http.StatusOK {
				assert.Equal(t, "u1/Ann", w.Body.String())
			}
		})
	}
}
