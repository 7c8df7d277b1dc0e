// Package assets rewrites rendered HTML so it never reaches for external
// font or CDN resources. Rendering libraries tend to emit Google Fonts and
// Font-Awesome references even in offline mode, which breaks air-gapped
// deployments; this pass strips them and inlines locally embedded fonts.
package assets

import (
	_ "embed"
	"regexp"
	"strings"

	"github.com/semantic-explorer/viz-worker/pkg/log"
)

//go:embed fonts/all-fonts.css
var fontCSS string

// externalResourcePatterns match external font and CDN references that must
// not survive in the artifact.
var externalResourcePatterns = []struct {
	re   *regexp.Regexp
	desc string
}{
	{regexp.MustCompile(`(?i)<link[^>]*fonts\.googleapis\.com[^>]*>`), "google fonts link"},
	{regexp.MustCompile(`(?i)<link[^>]*fonts\.gstatic\.com[^>]*>`), "google fonts static link"},
	{regexp.MustCompile(`(?i)<link[^>]*maxcdn\.bootstrapcdn\.com[^>]*font-awesome[^>]*>`), "font-awesome cdn link"},
	{regexp.MustCompile(`(?i)<link[^>]*cdnjs\.cloudflare\.com[^>]*font-awesome[^>]*>`), "font-awesome cdnjs link"},
	{regexp.MustCompile(`(?i)<link[^>]*fontawesome[^>]*>`), "fontawesome link"},
	{regexp.MustCompile(`(?i)<link[^>]*rel=['"]preconnect['"][^>]*>`), "preconnect link"},
	{regexp.MustCompile(`(?i)@import\s+url\(["']?https?://fonts\.googleapis\.com[^)]+["']?\);?`), "google fonts @import"},
	{regexp.MustCompile(`(?i)@import\s+url\(["']?https?://[^)]*font[^)]+["']?\);?`), "external font @import"},
}

var headTagPattern = regexp.MustCompile(`(?i)<head[^>]*>`)

var urlPattern = regexp.MustCompile(`(?i)https?://[^\s"'<>]+`)

// externalFontHosts are the domains Verify flags as leaks.
var externalFontHosts = []string{
	"fonts.googleapis.com",
	"fonts.gstatic.com",
	"maxcdn.bootstrapcdn.com",
	"cdnjs.cloudflare.com",
	"fontawesome",
	"unpkg.com",
}

// PatchHTML strips every external font and CDN reference from the document
// and inserts the embedded font style block immediately after the first
// <head> tag, or at the front of the document when no <head> exists.
func PatchHTML(html string) string {
	if html == "" {
		return html
	}

	logger := log.WithComponent("assets")

	removed := 0
	for _, p := range externalResourcePatterns {
		matches := p.re.FindAllStringIndex(html, -1)
		if len(matches) == 0 {
			continue
		}
		removed += len(matches)
		logger.Debug().Int("count", len(matches)).Str("pattern", p.desc).Msg("removing external reference")
		html = p.re.ReplaceAllString(html, "")
	}

	styleTag := fontStyleTag()
	if loc := headTagPattern.FindStringIndex(html); loc != nil {
		html = html[:loc[1]] + "\n" + styleTag + html[loc[1]:]
	} else {
		html = styleTag + "\n" + html
	}

	if removed > 0 {
		logger.Info().Int("removed", removed).Msg("stripped external resource references")
	}
	return html
}

// Verify returns the external font and CDN URLs still present in the
// document. A correctly patched artifact yields an empty slice.
func Verify(html string) []string {
	var leaks []string
	for _, url := range urlPattern.FindAllString(html, -1) {
		lower := strings.ToLower(url)
		for _, host := range externalFontHosts {
			if strings.Contains(lower, host) {
				leaks = append(leaks, url)
				break
			}
		}
	}
	return leaks
}

func fontStyleTag() string {
	var b strings.Builder
	b.WriteString("<style>\n")
	b.WriteString("/* Embedded fonts for offline rendering */\n")
	b.WriteString(fontCSS)
	b.WriteString("\n</style>")
	return b.String()
}
