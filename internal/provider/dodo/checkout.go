package dodo

import (
	"net/url"
	"strings"

	"github.com/smallbiznis/entitled/internal/config"
)

const (
	checkoutBaseTest = "https://test.checkout.dodopayments.com/buy"
	checkoutBaseLive = "https://checkout.dodopayments.com/buy"
)

// LinkBuilder produces hosted checkout links. The environment picks the
// checkout host; the return URL brings the buyer back to the success page.
type LinkBuilder struct {
	base      string
	returnURL string
}

func NewLinkBuilder(cfg config.Config) *LinkBuilder {
	base := checkoutBaseTest
	if cfg.IsLive() {
		base = checkoutBaseLive
	}
	return &LinkBuilder{
		base:      base,
		returnURL: strings.TrimSpace(cfg.Dodo.ReturnURL),
	}
}

// CheckoutURL builds the hosted checkout link for one product. A known buyer
// email prefills checkout and is threaded through the redirect so the return
// page can show their access.
func (b *LinkBuilder) CheckoutURL(productID, email string) string {
	redirect := b.returnURL
	if email != "" {
		ret, err := url.Parse(b.returnURL)
		if err == nil {
			q := ret.Query()
			q.Set("email", email)
			ret.RawQuery = q.Encode()
			redirect = ret.String()
		}
	}

	values := url.Values{}
	values.Set("quantity", "1")
	values.Set("redirect_url", redirect)
	if email != "" {
		values.Set("email", email)
	}

	return b.base + "/" + url.PathEscape(productID) + "?" + values.Encode()
}
