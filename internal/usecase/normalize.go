package usecase

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// Timeframe constants of the trading backend.
const (
	TimeframeM1  = "TIME_FRAME_M1"
	TimeframeM5  = "TIME_FRAME_M5"
	TimeframeM15 = "TIME_FRAME_M15"
	TimeframeM30 = "TIME_FRAME_M30"
	TimeframeH1  = "TIME_FRAME_H1"
	TimeframeH4  = "TIME_FRAME_H4"
	TimeframeD   = "TIME_FRAME_D"
	TimeframeW   = "TIME_FRAME_W"
	TimeframeMN  = "TIME_FRAME_MN"
)

const isoLayout = "2006-01-02T15:04:05Z"

var timeframeCues = []struct {
	tf   string
	cues []string
}{
	{TimeframeM1, []string{"1m", "m1", "минутная", "минутные", "1 мин"}},
	{TimeframeM5, []string{"5m", "m5", "5 мин"}},
	{TimeframeM15, []string{"15m", "m15", "15 мин"}},
	{TimeframeM30, []string{"30m", "m30", "30 мин"}},
	{TimeframeH4, []string{"4h", "h4", "4 часа"}},
	{TimeframeH1, []string{"1h", "h1", "час", "часовой"}},
	{TimeframeD, []string{"d", "1d", "day", "днев", "дни", "день"}},
	{TimeframeW, []string{"w", "1w", "нед", "недел"}},
	{TimeframeMN, []string{"mn", "mon", "месяц", "месячн"}},
}

// matchTimeframe scans the cue table in declaration order and returns the
// timeframe of the first cue of at least minRunes runes occurring in s on a
// token boundary.
func matchTimeframe(s string, minRunes int) (string, bool) {
	for _, c := range timeframeCues {
		for _, cue := range c.cues {
			if utf8.RuneCountInString(cue) < minRunes {
				continue
			}
			if cueMatches(s, cue) {
				return c.tf, true
			}
		}
	}
	return "", false
}

// cueMatches reports whether cue occurs in s at a token start and is not
// continued by a digit. Cues are stems, so trailing letters are fine
// ("днев" matching "дневные"), but "час" must not fire inside "сейчас",
// "5 мин" inside "15 мин", or "m1" inside "m15".
func cueMatches(s, cue string) bool {
	for from := 0; ; {
		i := strings.Index(s[from:], cue)
		if i < 0 {
			return false
		}
		i += from
		before, _ := utf8.DecodeLastRuneInString(s[:i])
		after, _ := utf8.DecodeRuneInString(s[i+len(cue):])
		if (i == 0 || !(unicode.IsLetter(before) || unicode.IsDigit(before))) && !unicode.IsDigit(after) {
			return true
		}
		from = i + len(cue)
	}
}

// NormalizeTimeframe maps a natural timeframe phrase (Russian or short code)
// to a backend TIME_FRAME_* constant. Unrecognized input falls back to the
// daily timeframe.
func NormalizeTimeframe(natural string) string {
	s := strings.ToLower(strings.TrimSpace(natural))
	if strings.HasPrefix(s, "time_frame_") {
		return strings.ToUpper(s)
	}
	if tf, ok := matchTimeframe(s, 1); ok {
		return tf
	}
	return TimeframeD
}

// NormalizeSymbol upper-cases a ticker and attaches the default Moscow
// Exchange market code when no market is present: SBER -> SBER@MISX.
// Alias resolution (company names) is the mapper's concern, not this one's.
func NormalizeSymbol(symbolLike string) string {
	s := strings.ToUpper(strings.TrimSpace(symbolLike))
	if s == "" || strings.Contains(s, "@") {
		return s
	}
	return s + "@MISX"
}

var symbolPattern = regexp.MustCompile(`^[A-Z0-9]{1,12}@[A-Z]{2,8}$`)

// ValidSymbol reports whether a normalized symbol has the TICKER@MARKET shape.
func ValidSymbol(sym string) bool { return symbolPattern.MatchString(sym) }

var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"2006-01-02 15:04",
	"2006/01/02 15:04",
	"2006-01-02 15:04:05",
	"2006/01/02 15:04:05",
	time.RFC3339,
}

// NormalizeDate converts common date spellings and a few natural shortcuts
// ("сегодня", "вчера", "today", "yesterday") to ISO8601 Z at UTC. It returns
// an error for anything it cannot parse; the Resolver maps that to
// ErrInvalidParameter.
func NormalizeDate(natural string, now time.Time) (string, error) {
	s := strings.TrimSpace(natural)
	switch strings.ToLower(s) {
	case "сегодня", "today":
		return dayStart(now).Format(isoLayout), nil
	case "вчера", "yesterday":
		return dayStart(now.AddDate(0, 0, -1)).Format(isoLayout), nil
	case "now":
		return now.UTC().Format(isoLayout), nil
	}
	if strings.HasPrefix(s, "now-") && strings.HasSuffix(s, "d") {
		if n, err := strconv.Atoi(s[4 : len(s)-1]); err == nil && n > 0 {
			return dayStart(now.AddDate(0, 0, -n)).Format(isoLayout), nil
		}
	}
	for _, layout := range dateLayouts {
		if dt, err := time.Parse(layout, s); err == nil {
			return dt.UTC().Format(isoLayout), nil
		}
	}
	return "", fmt.Errorf("unrecognized date %q", s)
}

func dayStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

var ruMonths = []struct {
	stem  string
	month time.Month
}{
	{"январ", time.January},
	{"феврал", time.February},
	{"март", time.March},
	{"апрел", time.April},
	{"мая", time.May},
	{"май", time.May},
	{"июн", time.June},
	{"июл", time.July},
	{"август", time.August},
	{"сентябр", time.September},
	{"октябр", time.October},
	{"ноябр", time.November},
	{"декабр", time.December},
}

var monthYearPattern = regexp.MustCompile(`(январ|феврал|март|апрел|мая|май|июн|июл|август|сентябр|октябр|ноябр|декабр)[а-я]*\s+(\d{4})`)
var lastDaysPattern = regexp.MustCompile(`последние\s+(\d+)\s+дн`)

// ParseDateRange extracts an ISO8601 [start, end] pair from Russian natural
// phrases: "август 2025", "за последний квартал", "последнюю неделю",
// "за полгода", "последние N дней". Returns ok=false when the text carries
// no recognizable range.
func ParseDateRange(naturalText string, now time.Time) (start, end string, ok bool) {
	text := strings.ToLower(naturalText)
	if text == "" {
		return "", "", false
	}
	nowUTC := now.UTC()

	if strings.Contains(text, "последн") && strings.Contains(text, "недел") {
		return dayStart(nowUTC.AddDate(0, 0, -7)).Format(isoLayout), nowUTC.Format(isoLayout), true
	}
	if strings.Contains(text, "последн") && strings.Contains(text, "квартал") {
		q := (int(nowUTC.Month()) - 1) / 3 // 0..3, current quarter index
		year := nowUTC.Year()
		if q == 0 {
			q = 4
			year--
		}
		startMonth := time.Month(3*(q-1) + 1)
		s := time.Date(year, startMonth, 1, 0, 0, 0, 0, time.UTC)
		e := s.AddDate(0, 3, 0).Add(-time.Second)
		return s.Format(isoLayout), e.Format(isoLayout), true
	}
	if strings.Contains(text, "полгод") || strings.Contains(text, "пол-года") {
		return dayStart(nowUTC.AddDate(0, 0, -182)).Format(isoLayout), nowUTC.Format(isoLayout), true
	}
	if m := lastDaysPattern.FindStringSubmatch(text); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil && n > 0 {
			return dayStart(nowUTC.AddDate(0, 0, -n)).Format(isoLayout), nowUTC.Format(isoLayout), true
		}
	}
	if m := monthYearPattern.FindStringSubmatch(text); m != nil {
		year, _ := strconv.Atoi(m[2])
		for _, rm := range ruMonths {
			if strings.HasPrefix(m[1], rm.stem) {
				s := time.Date(year, rm.month, 1, 0, 0, 0, 0, time.UTC)
				e := s.AddDate(0, 1, 0).Add(-time.Second)
				return s.Format(isoLayout), e.Format(isoLayout), true
			}
		}
	}
	return "", "", false
}

var (
	tickerPattern    = regexp.MustCompile(`\b[A-Z0-9]{2,12}(?:@[A-Z]{2,8})?\b`)
	orderIDPattern   = regexp.MustCompile(`\bORD[A-Z0-9-]*\b`)
	accountIDPattern = regexp.MustCompile(`\b(?:ACC|USR|FIN)-\d{3}-[A-Z]\b`)
)

// InferSymbol finds an explicit ticker token in the text (SBER, GAZP@MISX).
// Order-ID-looking and purely numeric tokens are skipped.
func InferSymbol(text string) (string, bool) {
	for _, tok := range tickerPattern.FindAllString(strings.ToUpper(text), -1) {
		if strings.HasPrefix(tok, "ORD") {
			continue
		}
		if _, err := strconv.Atoi(tok); err == nil {
			continue
		}
		if tf := strings.TrimPrefix(tok, "TIME_FRAME_"); tf != tok {
			continue
		}
		return NormalizeSymbol(tok), true
	}
	return "", false
}

// InferOrderID finds a Finam-style order identifier (ORD123, ORD-ABC-1).
func InferOrderID(text string) (string, bool) {
	m := orderIDPattern.FindString(strings.ToUpper(text))
	return m, m != ""
}

// InferAccountID finds a structured account identifier (ACC-001-A,
// USR-123-B). Bare numbers are never accepted: quantities and years would
// match too, and a misread account is the one slot where a wrong guess is
// worse than falling back to the catalog default.
func InferAccountID(text string) (string, bool) {
	m := accountIDPattern.FindString(strings.ToUpper(text))
	return m, m != ""
}
