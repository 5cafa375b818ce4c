// Package extract contains the parsers that turn dashboard text into metric values.
//
// Every parser is pure and never panics: malformed input yields ok == false.
package extract

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// the amount must carry exactly two decimals, `$992` is not an amount.
// there is no sign in the grammar, so a parsed amount is never negative.
var currencyRegex = regexp.MustCompile(`\$((?:\d{1,3}(?:,\d{3})+|\d+)\.\d{2})(?:\D|$)`)

// ParseCurrencyAmount parses the first dollar amount in text.
func ParseCurrencyAmount(text string) (float64, bool) {
	match := currencyRegex.FindStringSubmatch(text)
	if len(match) < 2 {
		return 0, false
	}
	return parseAmount(match[1])
}

func parseAmount(digits string) (float64, bool) {
	cleaned := strings.ReplaceAll(digits, ",", "")
	value, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, false
	}
	return value, true
}

// IsCurrency reports whether text contains a parsable dollar amount.
func IsCurrency(text string) bool {
	_, ok := ParseCurrencyAmount(text)
	return ok
}

var countRegex = regexp.MustCompile(`\d+`)

// ParseCount parses the first run of digits in text.
func ParseCount(text string) (int64, bool) {
	match := countRegex.FindString(text)
	if match == "" {
		return 0, false
	}
	value, err := strconv.ParseInt(match, 10, 64)
	if err != nil {
		return 0, false
	}
	return value, true
}

var bareIntegerRegex = regexp.MustCompile(`^\d+$`)

// IsBareInteger reports whether the trimmed text is nothing but digits.
func IsBareInteger(text string) bool {
	return bareIntegerRegex.MatchString(strings.TrimSpace(text))
}

const ShowTimeLabel = "Show Time"

var showTimeRegex = regexp.MustCompile(`(?i)show\s*time`)

var (
	hmsRegex = regexp.MustCompile(`(\d{1,3}):([0-5]\d):([0-5]\d)`)
	hmRegex  = regexp.MustCompile(`(\d{1,3}):([0-5]\d)`)
)

func roundHours(hours float64) float64 {
	return math.Round(hours*100) / 100
}

// ParseElapsedDuration parses the show timer, "Show Time: 02:15:30" or "0:45", into hours
// rounded to 2 decimals. When the label is present only the text after it is considered.
// The three part form is tried first so that H:MM:SS is never read as H:MM.
func ParseElapsedDuration(text string) (float64, bool) {
	rest := text
	if loc := showTimeRegex.FindStringIndex(text); loc != nil {
		rest = text[loc[1]:]
	}

	if match := hmsRegex.FindStringSubmatch(rest); len(match) == 4 {
		hours, _ := strconv.Atoi(match[1])
		minutes, _ := strconv.Atoi(match[2])
		seconds, _ := strconv.Atoi(match[3])
		total := float64(hours) + float64(minutes)/60 + float64(seconds)/3600
		return roundHours(total), true
	}
	if match := hmRegex.FindStringSubmatch(rest); len(match) == 3 {
		hours, _ := strconv.Atoi(match[1])
		minutes, _ := strconv.Atoi(match[2])
		return roundHours(float64(hours) + float64(minutes)/60), true
	}
	return 0, false
}

var scheduledRegex = regexp.MustCompile(`(?i)(\d{1,2})/(\d{1,2})\s+(\d{1,2}):(\d{2})\s*([ap]m)`)

// FindScheduledLabel returns the first "M/D H:MMAM" token in text, as written.
func FindScheduledLabel(text string) (string, bool) {
	match := scheduledRegex.FindString(text)
	if match == "" {
		return "", false
	}
	return match, true
}

// ParseScheduledTime parses a label like "11/23 10:00AM". The label has no year so
// `year` is used, the wall clock is interpreted in `loc` (nil means time.Local).
func ParseScheduledTime(raw string, year int, loc *time.Location) (time.Time, bool) {
	match := scheduledRegex.FindStringSubmatch(raw)
	if len(match) != 6 {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.Local
	}

	month, _ := strconv.Atoi(match[1])
	day, _ := strconv.Atoi(match[2])
	hour, _ := strconv.Atoi(match[3])
	minute, _ := strconv.Atoi(match[4])
	if month < 1 || month > 12 || day < 1 || hour < 1 || hour > 12 || minute > 59 {
		return time.Time{}, false
	}

	hour = hour % 12
	if strings.EqualFold(match[5], "pm") {
		hour += 12
	}

	// labels are 1-indexed which is also what time.Month is
	result := time.Date(year, time.Month(month), day, hour, minute, 0, 0, loc)
	// time.Date normalizes 2/30 into 3/2, which is not what the label said
	if result.Month() != time.Month(month) || result.Day() != day {
		return time.Time{}, false
	}
	return result, true
}

const TipsLabel = "Tips"

var (
	tipsRegex    = regexp.MustCompile(`(?i)\btips?\b`)
	zeroTipRegex = regexp.MustCompile(`^\s*:?\s*\$0(?:\.00)?(?:[^\d.]|$)`)
	// labels of the neighbouring metrics, tips text stops at the first of them
	otherLabelRegex = regexp.MustCompile(`(?i)gross\s*sales|estimated\s*orders|show\s*time`)
)

// ParseTips parses the amount following the "Tips" label. A literal $0 or $0.00 right
// after the label is a zero, not a miss.
//
// The caller is responsible for only handing over text from the metrics container,
// the page has other small dollar amounts (quick tip buttons) that must not be read.
func ParseTips(text string) (float64, bool) {
	loc := tipsRegex.FindStringIndex(text)
	if loc == nil {
		return 0, false
	}
	return ParseTipsAmount(text[loc[1]:])
}

// HasTipsLabel reports whether text mentions the tips label.
func HasTipsLabel(text string) bool {
	return tipsRegex.MatchString(text)
}

// ParseTipsAmount parses text that follows the tips label, up to the next metric's
// label.
func ParseTipsAmount(text string) (float64, bool) {
	if next := otherLabelRegex.FindStringIndex(text); next != nil {
		text = text[:next[0]]
	}
	if zeroTipRegex.MatchString(text) {
		return 0, true
	}
	return ParseCurrencyAmount(text)
}

var (
	relativeAgeRegex = regexp.MustCompile(`(?i)\b(\d+|an?)\s*(seconds?|secs?|s|minutes?|mins?|m|hours?|hrs?|h|days?|d|weeks?|w)\s+ago\b`)
	justNowRegex     = regexp.MustCompile(`(?i)\bjust\s+now\b`)
	yesterdayRegex   = regexp.MustCompile(`(?i)\byesterday\b`)
)

func unitDuration(unit string) time.Duration {
	unit = strings.ToLower(unit)
	switch {
	case unit == "m" || strings.HasPrefix(unit, "min"):
		return time.Minute
	case unit == "s" || strings.HasPrefix(unit, "sec"):
		return time.Second
	case unit == "h" || strings.HasPrefix(unit, "h"):
		return time.Hour
	case unit == "d" || strings.HasPrefix(unit, "day"):
		return 24 * time.Hour
	case unit == "w" || strings.HasPrefix(unit, "week"):
		return 7 * 24 * time.Hour
	}
	return 0
}

// ParseRelativeAge parses the first relative time token ("5m ago", "2 hours ago",
// "an hour ago", "just now", "yesterday") in text.
func ParseRelativeAge(text string) (time.Duration, bool) {
	if match := relativeAgeRegex.FindStringSubmatch(text); len(match) == 3 {
		count := int64(1)
		if !strings.HasPrefix(strings.ToLower(match[1]), "a") {
			parsed, err := strconv.ParseInt(match[1], 10, 64)
			if err != nil {
				return 0, false
			}
			count = parsed
		}
		unit := unitDuration(match[2])
		if unit == 0 || count > int64(math.MaxInt64/unit) {
			return 0, false
		}
		return time.Duration(count) * unit, true
	}
	if justNowRegex.MatchString(text) {
		return 0, true
	}
	if yesterdayRegex.MatchString(text) {
		return 24 * time.Hour, true
	}
	return 0, false
}
