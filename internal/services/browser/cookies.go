package browser

import (
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/ternarybob/ghibliflow/internal/models"
)

// LoadCookies reads the authentication-cookie snapshot. A missing file,
// unreadable file or anything other than a JSON array of cookie records is an error.
func LoadCookies(path string) ([]models.Cookie, error) {
	if path == "" {
		return nil, fmt.Errorf("cookies path not configured")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies file %s: %w", path, err)
	}

	var cookies []models.Cookie
	if err := json.Unmarshal(data, &cookies); err != nil {
		return nil, fmt.Errorf("cookies file %s must hold a JSON array of cookies: %w", path, err)
	}

	return cookies, nil
}

// fillCookieDomains sets the entry URL's host on cookies exported without a domain
func fillCookieDomains(cookies []models.Cookie, entryURL string) []models.Cookie {
	host := ""
	if u, err := url.Parse(entryURL); err == nil {
		host = u.Hostname()
	}

	result := make([]models.Cookie, 0, len(cookies))
	for _, c := range cookies {
		if c.Domain == "" {
			c.Domain = host
		}
		result = append(result, c)
	}
	return result
}

// toCookieParams converts snapshot records into CDP cookie params
func toCookieParams(cookies []models.Cookie) []*network.CookieParam {
	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		param := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		}

		if c.Expires > 0 {
			sec, frac := math.Modf(c.Expires)
			expires := cdp.TimeSinceEpoch(time.Unix(int64(sec), int64(frac*1e9)))
			param.Expires = &expires
		}

		switch strings.ToLower(c.SameSite) {
		case "strict":
			param.SameSite = network.CookieSameSiteStrict
		case "lax":
			param.SameSite = network.CookieSameSiteLax
		case "none", "no_restriction":
			param.SameSite = network.CookieSameSiteNone
		}

		params = append(params, param)
	}
	return params
}
