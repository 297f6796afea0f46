package normalize

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Dutch month names, full and abbreviated, mapped to month numbers.
var dutchMonths = map[string]time.Month{
	"januari": time.January, "jan": time.January,
	"februari": time.February, "feb": time.February,
	"maart": time.March, "mrt": time.March,
	"april": time.April, "apr": time.April,
	"mei": time.May,
	"juni": time.June, "jun": time.June,
	"juli": time.July, "jul": time.July,
	"augustus": time.August, "aug": time.August,
	"september": time.September, "sep": time.September, "sept": time.September,
	"oktober": time.October, "okt": time.October,
	"november": time.November, "nov": time.November,
	"december": time.December, "dec": time.December,
}

var dateLayouts = []string{
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
	"02-01-2006",
	"02/01/2006",
	"2-1-2006",
	"Mon, 02 Jan 2006 15:04:05 -0700",
	"Mon, 02 Jan 2006 15:04:05 MST",
}

// textualDateRe matches "12 april 2026", "za 12 apr" and similar.
var textualDateRe = regexp.MustCompile(`(?i)\b(\d{1,2})\s+([a-z]+)\.?\s*(\d{4})?\b`)

// ParseDate converts the many date shapes sources produce into ISO
// YYYY-MM-DD. When a time component rides along it is returned
// separately as HH:MM.
func ParseDate(raw string, defaultYear int) (date, timeOfDay string, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", "", fmt.Errorf("empty date")
	}

	for _, layout := range dateLayouts {
		if t, parseErr := time.Parse(layout, raw); parseErr == nil {
			date = t.Format("2006-01-02")
			if strings.Contains(layout, "15:04") && (t.Hour() != 0 || t.Minute() != 0) {
				timeOfDay = t.Format("15:04")
			}
			return date, timeOfDay, nil
		}
	}

	if m := textualDateRe.FindStringSubmatch(raw); m != nil {
		if month, ok := dutchMonths[strings.ToLower(m[2])]; ok {
			year := defaultYear
			if m[3] != "" {
				fmt.Sscanf(m[3], "%d", &year)
			}
			day := 0
			fmt.Sscanf(m[1], "%d", &day)
			if day >= 1 && day <= 31 {
				t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
				return t.Format("2006-01-02"), "", nil
			}
		}
	}

	return "", "", fmt.Errorf("unparseable date %q", raw)
}

// InTargetYear reports whether an ISO date falls in the target year.
func InTargetYear(isoDate string, targetYear int) bool {
	return strings.HasPrefix(isoDate, fmt.Sprintf("%d-", targetYear))
}
