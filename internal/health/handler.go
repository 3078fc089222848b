package health

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Info is the static part of the /health document.
type Info struct {
	Backend string
	Model   string
	Port    int
}

// Handler serves GET /health. The gateway itself is always reported healthy;
// the upstream probe state is carried separately so that liveness checks do
// not flap with the upstream.
func Handler(info Info, checker *Checker) gin.HandlerFunc {
	return func(c *gin.Context) {
		body := gin.H{
			"status":  "healthy",
			"backend": info.Backend,
			"model":   info.Model,
			"port":    info.Port,
		}
		if checker != nil {
			body["upstream"] = checker.Status()
			if t := checker.LastChecked(); !t.IsZero() {
				body["upstream_checked_at"] = t
			}
		} else {
			body["upstream"] = StatusUnknown
		}
		c.JSON(http.StatusOK, body)
	}
}
