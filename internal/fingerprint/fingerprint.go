// Package fingerprint identifies the CMS behind a page from HTML alone
// and recommends an extraction strategy order. Pure functions, no I/O.
package fingerprint

import (
	"regexp"
	"strings"

	"github.com/stadspuls/eventpipe/internal/domain"
)

// Result describes what the fingerprinter found in a page.
type Result struct {
	CMS                   string                 `json:"cms"`
	Version               string                 `json:"version,omitempty"`
	Confidence            int                    `json:"confidence"`
	RecommendedStrategies []domain.ParsingMethod `json:"recommendedStrategies"`
	RequiresJSRender      bool                   `json:"requiresJsRender"`
	DetectedDataSources   []string               `json:"detectedDataSources"`
}

// Data source markers found independently of the CMS.
const (
	SourceJSONLD    = "json_ld"
	SourceMicrodata = "microdata"
	SourceNextData  = "next_data"
	SourceNuxtState = "nuxt_state"
	SourceInitState = "initial_state"
	SourceFeedLink  = "feed_link"
	SourceICSLink   = "ics_link"
)

type weightedPattern struct {
	re     *regexp.Regexp
	weight int
}

type cmsProfile struct {
	name       string
	patterns   []weightedPattern
	versionRe  *regexp.Regexp
	strategies []domain.ParsingMethod
	requiresJS bool
}

func pat(weight int, expr string) weightedPattern {
	return weightedPattern{re: regexp.MustCompile(expr), weight: weight}
}

// Profile order matters: ties in total weight resolve to the
// earlier-defined CMS.
var profiles = []cmsProfile{
	{
		name: "wordpress",
		patterns: []weightedPattern{
			pat(80, `(?i)<meta[^>]+name=["']generator["'][^>]+content=["']wordpress`),
			pat(60, `(?i)/wp-content/`),
			pat(50, `(?i)/wp-json/`),
			pat(40, `(?i)/wp-includes/`),
			pat(30, `(?i)class=["'][^"']*\bwp-block`),
		},
		versionRe:  regexp.MustCompile(`(?i)content=["']wordpress\s*([0-9.]+)`),
		strategies: []domain.ParsingMethod{domain.MethodJSONLD, domain.MethodFeed, domain.MethodDOM},
	},
	{
		name: "wix",
		patterns: []weightedPattern{
			pat(80, `(?i)static\.parastorage\.com`),
			pat(70, `(?i)wix\.com`),
			pat(60, `(?i)wixBiSession`),
			pat(50, `(?i)id=["']wix-warmup-data["']`),
		},
		strategies: []domain.ParsingMethod{domain.MethodHydration, domain.MethodJSONLD, domain.MethodDOM},
		requiresJS: true,
	},
	{
		name: "squarespace",
		patterns: []weightedPattern{
			pat(80, `(?i)static1?\.squarespace\.com`),
			pat(70, `(?i)<!-- This is Squarespace`),
			pat(60, `(?i)Static\.SQUARESPACE_CONTEXT`),
		},
		strategies: []domain.ParsingMethod{domain.MethodJSONLD, domain.MethodHydration, domain.MethodDOM},
	},
	{
		name: "nextjs",
		patterns: []weightedPattern{
			pat(90, `id=["']__NEXT_DATA__["']`),
			pat(50, `(?i)/_next/static/`),
			pat(30, `(?i)<meta[^>]+name=["']next-head-count["']`),
		},
		strategies: []domain.ParsingMethod{domain.MethodHydration, domain.MethodJSONLD, domain.MethodDOM},
		requiresJS: true,
	},
	{
		name: "nuxt",
		patterns: []weightedPattern{
			pat(90, `window\.__NUXT__`),
			pat(50, `(?i)/_nuxt/`),
			pat(40, `id=["']__nuxt["']`),
		},
		strategies: []domain.ParsingMethod{domain.MethodHydration, domain.MethodJSONLD, domain.MethodDOM},
		requiresJS: true,
	},
	{
		name: "react",
		patterns: []weightedPattern{
			pat(60, `window\.__INITIAL_STATE__`),
			pat(50, `id=["']root["']></div>`),
			pat(40, `(?i)data-reactroot`),
		},
		strategies: []domain.ParsingMethod{domain.MethodHydration, domain.MethodJSONLD, domain.MethodDOM},
		requiresJS: true,
	},
	{
		name: "drupal",
		patterns: []weightedPattern{
			pat(80, `(?i)<meta[^>]+name=["']generator["'][^>]+content=["']drupal`),
			pat(60, `(?i)/sites/default/files/`),
			pat(50, `(?i)drupal-settings-json`),
			pat(40, `(?i)jQuery\.extend\(Drupal\.settings`),
		},
		versionRe:  regexp.MustCompile(`(?i)content=["']drupal\s*([0-9.]+)`),
		strategies: []domain.ParsingMethod{domain.MethodJSONLD, domain.MethodFeed, domain.MethodDOM},
	},
	{
		name: "joomla",
		patterns: []weightedPattern{
			pat(80, `(?i)<meta[^>]+name=["']generator["'][^>]+content=["']joomla`),
			pat(60, `(?i)/media/jui/`),
			pat(50, `(?i)/components/com_`),
		},
		versionRe:  regexp.MustCompile(`(?i)content=["']joomla!?\s*([0-9.]+)`),
		strategies: []domain.ParsingMethod{domain.MethodJSONLD, domain.MethodFeed, domain.MethodDOM},
	},
	{
		name: "shopify",
		patterns: []weightedPattern{
			pat(80, `(?i)cdn\.shopify\.com`),
			pat(70, `(?i)Shopify\.theme`),
			pat(50, `(?i)/collections/`),
		},
		strategies: []domain.ParsingMethod{domain.MethodJSONLD, domain.MethodDOM},
	},
	{
		name: "webflow",
		patterns: []weightedPattern{
			pat(80, `(?i)<meta[^>]+name=["']generator["'][^>]+content=["']webflow`),
			pat(70, `(?i)assets\.website-files\.com`),
			pat(50, `(?i)class=["'][^"']*\bw-dyn-item`),
		},
		strategies: []domain.ParsingMethod{domain.MethodJSONLD, domain.MethodDOM},
	},
}

var dataSourceChecks = []struct {
	name string
	re   *regexp.Regexp
}{
	{SourceJSONLD, regexp.MustCompile(`(?i)<script[^>]+type=["']application/ld\+json["']`)},
	{SourceMicrodata, regexp.MustCompile(`(?i)itemtype=["'][^"']*schema\.org`)},
	{SourceNextData, regexp.MustCompile(`id=["']__NEXT_DATA__["']`)},
	{SourceNuxtState, regexp.MustCompile(`window\.__NUXT__`)},
	{SourceInitState, regexp.MustCompile(`window\.__INITIAL_STATE__`)},
	{SourceFeedLink, regexp.MustCompile(`(?i)<link[^>]+type=["']application/(rss|atom)\+xml["']`)},
	{SourceICSLink, regexp.MustCompile(`(?i)href=["'][^"']*\.ics["']|(?i)href=["']webcal:`)},
}

// Detect fingerprints the HTML. The returned strategy list always ends
// with the DOM strategy so the waterfall has a deterministic fallback.
func Detect(html string) *Result {
	result := &Result{
		CMS:                 "unknown",
		DetectedDataSources: detectDataSources(html),
	}

	bestWeight := 0
	var best *cmsProfile
	for i := range profiles {
		p := &profiles[i]
		weight := 0
		for _, wp := range p.patterns {
			if wp.re.MatchString(html) {
				weight += wp.weight
			}
		}
		if weight > bestWeight {
			bestWeight = weight
			best = p
		}
	}

	if best != nil {
		result.CMS = best.name
		result.Confidence = confidence(bestWeight)
		result.RequiresJSRender = best.requiresJS
		result.RecommendedStrategies = withDOMLast(best.strategies)
		if best.versionRe != nil {
			if m := best.versionRe.FindStringSubmatch(html); len(m) > 1 {
				result.Version = m[1]
			}
		}
		return result
	}

	result.RecommendedStrategies = strategiesFromDataSources(result.DetectedDataSources)
	return result
}

func confidence(totalWeight int) int {
	c := totalWeight / 2
	if c > 100 {
		return 100
	}
	return c
}

func detectDataSources(html string) []string {
	found := []string{}
	for _, check := range dataSourceChecks {
		if check.re.MatchString(html) {
			found = append(found, check.name)
		}
	}
	return found
}

// strategiesFromDataSources orders strategies for an unknown CMS by
// which embedded data the page actually carries.
func strategiesFromDataSources(sources []string) []domain.ParsingMethod {
	has := make(map[string]bool, len(sources))
	for _, s := range sources {
		has[s] = true
	}

	var order []domain.ParsingMethod
	if has[SourceNextData] || has[SourceNuxtState] || has[SourceInitState] {
		order = append(order, domain.MethodHydration)
	}
	if has[SourceJSONLD] || has[SourceMicrodata] {
		order = append(order, domain.MethodJSONLD)
	}
	if has[SourceFeedLink] || has[SourceICSLink] {
		order = append(order, domain.MethodFeed)
	}
	return withDOMLast(order)
}

func withDOMLast(strategies []domain.ParsingMethod) []domain.ParsingMethod {
	out := make([]domain.ParsingMethod, 0, len(strategies)+1)
	for _, s := range strategies {
		if s == domain.MethodDOM {
			continue
		}
		out = append(out, s)
	}
	return append(out, domain.MethodDOM)
}

// HasSource reports whether a data source marker was detected.
func (r *Result) HasSource(name string) bool {
	for _, s := range r.DetectedDataSources {
		if s == name {
			return true
		}
	}
	return false
}

// Summary is a compact log form of the result.
func (r *Result) Summary() string {
	parts := []string{r.CMS}
	if r.Version != "" {
		parts = append(parts, r.Version)
	}
	return strings.Join(parts, " ")
}
