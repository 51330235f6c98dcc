package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/entitled/internal/entitlement/domain"
)

// CheckoutRedirect sends the buyer to the hosted checkout for a product. The
// optional email prefills checkout and survives the round trip back to the
// success page.
func (s *Server) CheckoutRedirect(c *gin.Context) {
	productID := strings.TrimSpace(c.Param("productId"))
	if productID == "" {
		AbortWithError(c, domain.ErrInvalidPayload)
		return
	}

	email := domain.NormalizeEmail(c.Query("email"))

	if s.obsMetrics != nil {
		s.obsMetrics.RecordCheckoutRedirect(c.Request.Context(), productID)
	}

	c.Redirect(http.StatusFound, s.links.CheckoutURL(productID, email))
}
