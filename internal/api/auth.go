package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/compquest/server/internal/errors"
)

// requireToken guards the matchmaking routes with the static bearer token.
// Browser WebSocket clients cannot set headers, so ?token= is accepted as a
// fallback there too (see checkToken).
func (a *API) requireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.checkToken(c.Request) {
			e := errors.New(errors.CodeUnauthenticated,
				errors.WithMessagef("missing or invalid token"))
			c.AbortWithStatusJSON(e.HTTPStatusCode(), e)
			return
		}
		c.Next()
	}
}

func (a *API) checkToken(r *http.Request) bool {
	if a.token == "" {
		return true
	}

	if auth := r.Header.Get("Authorization"); auth != "" {
		if tok, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return tok == a.token
		}
		return false
	}

	return r.URL.Query().Get("token") == a.token
}
