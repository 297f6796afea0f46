package normalize

import (
	"fmt"
	"regexp"
	"strings"
)

// TimeTBD is stored when no usable start time was found.
const TimeTBD = "TBD"

// timeRe matches 20:00, 20.00, 20h00, 8:30 pm, "20 uhr", "20 uur".
var (
	clockRe = regexp.MustCompile(`(?i)\b(\d{1,2})[:.h](\d{2})\s*(am|pm)?\b`)
	hourRe  = regexp.MustCompile(`(?i)\b(\d{1,2})\s*(?:uhr|uur)\b`)
)

// ExtractTime pulls a start time out of free text and normalizes it to
// 24h HH:MM. Returns TBD when nothing valid is found.
func ExtractTime(text string) string {
	if m := clockRe.FindStringSubmatch(text); m != nil {
		hour, minute := atoi(m[1]), atoi(m[2])
		hour = apply12Hour(hour, m[3])
		if valid(hour, minute) {
			return fmt.Sprintf("%02d:%02d", hour, minute)
		}
		return TimeTBD
	}

	if m := hourRe.FindStringSubmatch(text); m != nil {
		hour := atoi(m[1])
		if valid(hour, 0) {
			return fmt.Sprintf("%02d:00", hour)
		}
	}

	return TimeTBD
}

func apply12Hour(hour int, meridiem string) int {
	switch strings.ToLower(meridiem) {
	case "pm":
		if hour < 12 {
			return hour + 12
		}
	case "am":
		if hour == 12 {
			return 0
		}
	}
	return hour
}

func valid(hour, minute int) bool {
	return hour >= 0 && hour <= 23 && minute >= 0 && minute <= 59
}

func atoi(s string) int {
	n := 0
	for _, r := range s {
		n = n*10 + int(r-'0')
	}
	return n
}
