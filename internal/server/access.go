package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetUserAccess answers the entitlement question for one email. Unknown
// emails answer 200 with zero access.
func (s *Server) GetUserAccess(c *gin.Context) {
	view, err := s.accessSvc.QueryAccess(c.Request.Context(), c.Param("email"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, view)
}
