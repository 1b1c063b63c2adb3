package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	corsMethods = "GET, POST, PATCH, DELETE, OPTIONS"
	corsHeaders = "Content-Type, Authorization, " + HeaderClientID
)

// Origins is the set of browser origins allowed to use the API and the push
// channel. The zero value allows none.
type Origins struct {
	any     bool
	allowed map[string]struct{}
}

// ParseOrigins reads a comma-separated origin list. An empty list or "*"
// allows every origin.
func ParseOrigins(list string) Origins {
	o := Origins{allowed: make(map[string]struct{})}
	for _, origin := range strings.Split(list, ",") {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		switch origin {
		case "":
		case "*":
			o.any = true
		default:
			o.allowed[origin] = struct{}{}
		}
	}
	if len(o.allowed) == 0 {
		o.any = true
	}
	return o
}

// Allows reports whether a request from origin may proceed. Requests without
// an Origin header do not come from a browser and are always allowed.
func (o Origins) Allows(origin string) bool {
	if origin == "" || o.any {
		return true
	}
	_, ok := o.allowed[origin]
	return ok
}

// CheckOrigin has the signature websocket.Upgrader expects.
func (o Origins) CheckOrigin(r *http.Request) bool {
	return o.Allows(r.Header.Get("Origin"))
}

// CORS answers preflight requests and sets the allow headers for permitted
// origins. A refused preflight gets 403; other refused requests pass through
// without headers and the browser blocks the response.
func (o Origins) CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" {
			c.Next()
			return
		}
		preflight := c.Request.Method == http.MethodOptions && c.GetHeader("Access-Control-Request-Method") != ""
		if !o.Allows(origin) {
			if preflight {
				c.AbortWithStatus(http.StatusForbidden)
				return
			}
			c.Next()
			return
		}

		if o.any {
			c.Header("Access-Control-Allow-Origin", "*")
		} else {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		}
		if preflight {
			c.Header("Access-Control-Allow-Methods", corsMethods)
			c.Header("Access-Control-Allow-Headers", corsHeaders)
			c.Header("Access-Control-Max-Age", "86400")
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
