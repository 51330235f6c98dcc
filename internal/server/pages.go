package server

import (
	"html/template"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/entitled/internal/entitlement/domain"
)

var homeTmpl = template.Must(template.New("home").Parse(`<!DOCTYPE html>
<html>
<head><title>My Access</title></head>
<body style="font-family: sans-serif; max-width: 640px; margin: 40px auto;">
{{if .Email}}
  <h1>Welcome, {{.Email}}!</h1>
  {{if .View.HasActiveAccess}}
    {{if .View.Subscription}}
      <h2>Subscription</h2>
      <p><strong>Status:</strong> {{.View.Subscription.Status}}</p>
      <p><strong>Product ID:</strong> {{.View.Subscription.ProductID}}</p>
      {{if not .View.Subscription.NextBillingDate.IsZero}}
      <p><strong>Next Billing Date:</strong> {{.View.Subscription.NextBillingDate.Format "Jan 2, 2006"}}</p>
      {{end}}
    {{end}}
    {{if .View.Products}}
      <h2>Purchases</h2>
      {{range .View.Products}}
        <p><strong>Product ID:</strong> {{.ProductID}} ({{.PurchasedAt.Format "Jan 2, 2006"}})</p>
      {{end}}
    {{end}}
  {{else}}
    <p>No active subscription or purchases yet.</p>
  {{end}}
  {{if .BuyURL}}
  <p><a href="{{.BuyURL}}" style="padding: 12px 24px; background-color: #007bff; color: white; text-decoration: none; border-radius: 8px;">Buy Product Now</a></p>
  {{end}}
{{else}}
  <h1>Check Your Access</h1>
  <p>Please enter your email to see your purchases.</p>
  <form method="GET" action="/">
    <input type="email" name="email" placeholder="Enter your email" required />
    <button type="submit">View Access</button>
  </form>
{{end}}
</body>
</html>`))

var paymentFailedTmpl = template.Must(template.New("failed").Parse(`<!DOCTYPE html>
<html>
<head><title>Payment Not Completed</title></head>
<body style="font-family: sans-serif; max-width: 640px; margin: 40px auto; text-align: center;">
  <h1>Payment Not Completed</h1>
  <p>Your payment was not confirmed{{if .Status}} (status: {{.Status}}){{end}}.</p>
  <p>Please check your email or contact support if you believe this is an error.</p>
  <a href="/" style="padding: 12px 24px; background-color: #007bff; color: white; text-decoration: none; border-radius: 8px;">Back to Home</a>
</body>
</html>`))

type homePage struct {
	Email  string
	View   domain.AccessView
	BuyURL string
}

// HomePage shows the email form, or the access summary when an email is in
// the query string.
func (s *Server) HomePage(c *gin.Context) {
	email := domain.NormalizeEmail(c.Query("email"))

	page := homePage{Email: email}
	if email != "" {
		view, err := s.accessSvc.QueryAccess(c.Request.Context(), email)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		page.View = view

		if s.cfg.Dodo.DefaultProductID != "" {
			page.BuyURL = "/checkout/" + url.PathEscape(s.cfg.Dodo.DefaultProductID) +
				"?email=" + url.QueryEscape(email)
		}
	}

	c.Status(http.StatusOK)
	c.Header("Content-Type", "text/html; charset=utf-8")
	_ = homeTmpl.Execute(c.Writer, page)
}

// SuccessPage is the checkout return target. A success-like status redirects
// to the access view; anything else renders a failure page. When the redirect
// lost the email, a best-effort provider lookup on the payment or
// subscription id recovers it; the reconciled store stays authoritative
// regardless of what the lookup says.
func (s *Server) SuccessPage(c *gin.Context) {
	status := strings.ToLower(strings.TrimSpace(c.Query("status")))
	if !successLikeStatus(status) {
		c.Header("Content-Type", "text/html; charset=utf-8")
		c.Status(http.StatusOK)
		_ = paymentFailedTmpl.Execute(c.Writer, struct{ Status string }{Status: status})
		return
	}

	email := domain.NormalizeEmail(c.Query("email"))
	if email == "" {
		email = s.resolveReturnEmail(c)
	}

	accessURL := "/"
	if email != "" {
		accessURL = "/?email=" + url.QueryEscape(email)
	}
	c.Redirect(http.StatusFound, accessURL)
}

// Checkout providers differ on the flag they append to the return URL; an
// absent status is treated as success so the happy path never dead-ends.
func successLikeStatus(status string) bool {
	switch status {
	case "", "succeeded", "success", "active":
		return true
	default:
		return false
	}
}

func (s *Server) resolveReturnEmail(c *gin.Context) string {
	ctx := c.Request.Context()

	if paymentID := strings.TrimSpace(c.Query("payment_id")); paymentID != "" {
		if payment, err := s.lookup.GetPayment(ctx, paymentID); err == nil {
			return domain.NormalizeEmail(payment.Customer.Email)
		}
	}
	if subscriptionID := strings.TrimSpace(c.Query("subscription_id")); subscriptionID != "" {
		if sub, err := s.lookup.GetSubscription(ctx, subscriptionID); err == nil {
			return domain.NormalizeEmail(sub.Customer.Email)
		}
	}
	return ""
}
