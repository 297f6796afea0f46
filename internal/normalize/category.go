package normalize

import (
	"strings"
	"unicode"

	ahocorasick "github.com/cloudflare/ahocorasick"

	"github.com/stadspuls/eventpipe/internal/domain"
)

// categoryRule maps a keyword list to a category. Rules are evaluated by
// hit count; the Hybrid Life overrides run before regular scoring.
type categoryRule struct {
	category domain.Category
	keywords []string
}

// Dutch parenting keywords force the family category regardless of any
// other match.
var parentingKeywords = []string{
	"kinderen", "kids", "peuter", "kleuter", "gezin", "familie",
	"voorlezen", "kindertheater", "kinderworkshop", "ouder en kind",
	"speeltuin", "jeugd",
}

// Adult social keywords steer toward social, or foodie when food words
// also appear.
var adultSocialKeywords = []string{
	"borrel", "pubquiz", "speeddate", "singles", "netwerkborrel",
	"vrijdagmiddagborrel", "cafe avond", "kroegentocht",
}

var foodieKeywords = []string{
	"proeverij", "wijnproeverij", "bierproeverij", "foodtruck",
	"streetfood", "diner", "brunch", "tasting", "culinair", "restaurant",
}

var categoryRules = []categoryRule{
	{domain.CategoryActive, []string{
		"hardlopen", "wandeling", "fietstocht", "yoga", "bootcamp",
		"sport", "zwemmen", "toernooi", "marathon", "fitness", "klimmen"}},
	{domain.CategoryGaming, []string{
		"gamen", "esports", "lan party", "bordspellen", "spellenavond",
		"videogames", "game night", "schaken", "poker"}},
	{domain.CategoryEntertainment, []string{
		"film", "bioscoop", "theater", "cabaret", "comedy", "musical",
		"voorstelling", "show", "circus", "stand-up"}},
	{domain.CategorySocial, adultSocialKeywords},
	{domain.CategoryFamily, parentingKeywords},
	{domain.CategoryOutdoors, []string{
		"buiten", "natuur", "park", "strand", "picknick", "excursie",
		"vogels kijken", "boswandeling", "openlucht", "kamperen"}},
	{domain.CategoryMusic, []string{
		"concert", "live muziek", "festival", "dj", "jazz", "optreden",
		"koor", "orkest", "band", "muziek"}},
	{domain.CategoryWorkshops, []string{
		"workshop", "cursus", "masterclass", "lezing", "training",
		"schilderen", "keramiek", "leren", "seminar"}},
	{domain.CategoryFoodie, foodieKeywords},
	{domain.CategoryCommunity, []string{
		"buurt", "wijk", "vrijwilligers", "markt", "rommelmarkt",
		"open dag", "inloop", "vergadering", "gemeente"}},
}

// Classifier assigns a category to event text using keyword matching
// with the Hybrid Life override rules.
type Classifier struct {
	parenting   *ahocorasick.Matcher
	adultSocial *ahocorasick.Matcher
	foodie      *ahocorasick.Matcher
	rules       []categoryRule
	matchers    []*ahocorasick.Matcher
}

// NewClassifier builds the keyword automatons.
func NewClassifier() *Classifier {
	c := &Classifier{
		parenting:   ahocorasick.NewStringMatcher(parentingKeywords),
		adultSocial: ahocorasick.NewStringMatcher(adultSocialKeywords),
		foodie:      ahocorasick.NewStringMatcher(foodieKeywords),
		rules:       categoryRules,
	}
	for _, rule := range categoryRules {
		c.matchers = append(c.matchers, ahocorasick.NewStringMatcher(rule.keywords))
	}
	return c
}

// Classify maps event text to a category. A non-empty hint that names a
// valid category is taken as-is.
func (c *Classifier) Classify(title, description, hint string) domain.Category {
	if hint != "" {
		if cat := domain.Category(strings.ToLower(strings.TrimSpace(hint))); domain.ValidCategory(cat) {
			return cat
		}
	}

	text := normalizeText(title + " " + description + " " + hint)
	data := []byte(text)

	// Hybrid Life: parenting always wins.
	if len(c.parenting.Match(data)) > 0 {
		return domain.CategoryFamily
	}
	// Adult social prefers social, or foodie when food words co-occur.
	if len(c.adultSocial.Match(data)) > 0 {
		if len(c.foodie.Match(data)) > 0 {
			return domain.CategoryFoodie
		}
		return domain.CategorySocial
	}

	best := domain.CategoryCommunity
	bestHits := 0
	for i, rule := range c.rules {
		hits := len(c.matchers[i].Match(data))
		if hits > bestHits {
			bestHits = hits
			best = rule.category
		}
	}
	return best
}

// normalizeText lowercases and flattens punctuation so the keyword
// automaton sees clean word boundaries.
func normalizeText(text string) string {
	text = strings.ToLower(text)

	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}
	return b.String()
}
