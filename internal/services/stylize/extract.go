package stylize

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// DefaultDiagnostic is reported when the page carries no assistant message
const DefaultDiagnostic = "unknown error"

// Fallback is what could be salvaged from a page without a result element
type Fallback struct {
	Diagnostic   string
	BestGuessURL string // Empty when no image matched
	Candidates   int
}

// CompilePatterns compiles the image URL patterns used for best-guess matching
func CompilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid image URL pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

// ResolveURL makes src absolute against baseURL the way the browser resolves
// img.src. src is returned trimmed but otherwise untouched when either fails to parse.
func ResolveURL(baseURL, src string) string {
	src = strings.TrimSpace(src)
	if baseURL == "" || src == "" {
		return src
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return src
	}
	ref, err := url.Parse(src)
	if err != nil {
		return src
	}
	return base.ResolveReference(ref).String()
}

// ExtractFallback scrapes the last assistant message's text as the diagnostic
// and takes the last <img> src matching any pattern as the best guess.
// Sources are resolved against baseURL before matching.
func ExtractFallback(html, baseURL, assistantSelector string, patterns []*regexp.Regexp) (Fallback, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Fallback{Diagnostic: DefaultDiagnostic}, fmt.Errorf("failed to parse page HTML: %w", err)
	}

	result := Fallback{Diagnostic: DefaultDiagnostic}

	if assistantSelector != "" {
		if last := doc.Find(assistantSelector).Last(); last.Length() > 0 {
			if text := strings.Join(strings.Fields(last.Text()), " "); text != "" {
				result.Diagnostic = text
			}
		}
	}

	doc.Find("img[src]").Each(func(_ int, img *goquery.Selection) {
		src, _ := img.Attr("src")
		src = ResolveURL(baseURL, src)
		if matchesAny(src, patterns) {
			result.BestGuessURL = src
			result.Candidates++
		}
	})

	return result, nil
}

func matchesAny(s string, patterns []*regexp.Regexp) bool {
	for _, re := range patterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}
