package api

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// CORS sets the cross-origin headers before anything else runs. An empty
// allow-list or one that is exactly "*" admits every origin; otherwise the
// request Origin is echoed when it matches an entry exactly.
func CORS(allowed []string) gin.HandlerFunc {
	origins := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o = strings.TrimSpace(o); o != "" {
			origins[o] = struct{}{}
		}
	}
	_, star := origins["*"]
	allowAll := len(origins) == 0 || (star && len(origins) == 1)
	return func(c *gin.Context) {
		h := c.Writer.Header()
		if allowAll {
			h.Set("Access-Control-Allow-Origin", "*")
		} else if origin := c.GetHeader("Origin"); origin != "" {
			if _, ok := origins[origin]; ok {
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
			}
		}
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-App-ID")
		c.Next()
	}
}
