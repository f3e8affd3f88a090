// Package normalize canonicalizes identifiers, periods, dates and free
// text coming from the billing gateway and the ledger worksheets so that
// joins across those sources are keyed identically.
package normalize

import (
	"sort"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"ghithu-reconciliation-service/internal/models"
)

// DisplayDateLayout is the dd/mm/yyyy layout used by every output table.
const DisplayDateLayout = "02/01/2006"

// Sheet dates are typed by hand, so single-digit days and months occur.
var sheetDateLayouts = []string{
	"2/1/2006 15:04:05",
	"2/1/2006",
}

var (
	naiveLayouts = []string{
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
		"2/1/2006 15:04:05",
		"2/1/2006",
		"1/2/2006 3:04:05 PM",
	}
	zonedLayouts = []string{
		time.RFC3339Nano,
		"2006-01-02 15:04:05Z07:00",
		"2006-01-02T15:04:05Z0700",
	}
)

var (
	lowerVI = cases.Lower(language.Vietnamese)
	upperVI = cases.Upper(language.Vietnamese)
)

// AccountID trims raw and left-pads it with zeros to the canonical width.
func AccountID(raw string) string {
	id := strings.TrimSpace(raw)
	if id == "" {
		return ""
	}
	if n := models.AccountIDLength - len(id); n > 0 {
		return strings.Repeat("0", n) + id
	}
	return id
}

// ExplodePeriods splits a packed ky_nam cell into trimmed period tags.
// A blank cell still yields a single empty tag so the assignment keeps
// its row.
func ExplodePeriods(raw string) []string {
	parts := strings.Split(raw, ",")
	tags := make([]string, len(parts))
	for i, p := range parts {
		tags[i] = strings.TrimSpace(p)
	}
	return tags
}

// SplitPeriod turns "5/2025" into {Month: "05", Year: "2025"}.
func SplitPeriod(tag string) models.Period {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return models.Period{}
	}
	month, year, _ := strings.Cut(tag, "/")
	return MakePeriod(month, year)
}

// MakePeriod canonicalizes separate month and year cells.
func MakePeriod(month, year string) models.Period {
	month = strings.TrimSpace(month)
	if len(month) == 1 {
		month = "0" + month
	}
	return models.Period{Month: month, Year: strings.TrimSpace(year)}
}

// ParseDate parses a ledger date in dd/mm/yyyy with or without a time of
// day. Unparseable input yields nil.
func ParseDate(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range sheetDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t
		}
	}
	return nil
}

// ParseStamp parses a billing or gateway datetime. The result is zoned
// only when the text carried an offset. Unparseable input yields nil.
func ParseStamp(raw string) *models.Stamp {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			s := models.Zoned(t)
			return &s
		}
	}
	for _, layout := range naiveLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return &models.Stamp{Time: t}
		}
	}
	return nil
}

// SeriesLocation returns the zone shared by a series of billing stamps.
// An all-naive or empty series reports zoned=false. A series that mixes
// naive and zoned values is rejected.
func SeriesLocation(stamps []*models.Stamp) (*time.Location, bool, error) {
	var loc *time.Location
	sawNaive := false
	for _, s := range stamps {
		if s == nil {
			continue
		}
		if !s.Zoned {
			sawNaive = true
			continue
		}
		if loc == nil {
			loc = s.Time.Location()
		}
	}
	if loc != nil && sawNaive {
		return nil, false, models.ErrMixedTimezone
	}
	if loc == nil {
		return nil, false, nil
	}
	return loc, true, nil
}

// AlignToSeries brings s into the billing series' representation. Naive
// wall clocks are localized into a zoned series; ambiguous or skipped
// local times resolve the way time.Date resolves them. Zoned stamps are
// converted. Against a naive series, zoned stamps become naive UTC.
func AlignToSeries(s models.Stamp, loc *time.Location, zoned bool) models.Stamp {
	if zoned {
		if s.Zoned {
			return models.Zoned(s.Time.In(loc))
		}
		t := s.Time
		return models.Zoned(time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc))
	}
	if s.Zoned {
		return models.Stamp{Time: s.Time.UTC()}
	}
	return s
}

// DeadlineStamp is the last second of day in the series' representation.
func DeadlineStamp(day time.Time, loc *time.Location, zoned bool) models.Stamp {
	if !zoned || loc == nil {
		loc = time.UTC
	}
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc)
	end := start.AddDate(0, 0, 1).Add(-time.Second)
	return models.Stamp{Time: end, Zoned: zoned}
}

// Older and newer Vietnamese orthography place the tone mark on different
// vowels of the oa, oe and uy clusters. Fold maps both to one spelling.
var toneFolder = strings.NewReplacer(
	"óa", "oá", "òa", "oà", "ỏa", "oả", "õa", "oã", "ọa", "oạ",
	"óe", "oé", "òe", "oè", "ỏe", "oẻ", "õe", "oẽ", "ọe", "oẹ",
	"úy", "uý", "ùy", "uỳ", "ủy", "uỷ", "ũy", "uỹ", "ụy", "uỵ",
)

// Fold prepares free text for equality checks: NFC, trimmed, inner
// whitespace collapsed, lower case, tone placement unified.
func Fold(s string) string {
	s = norm.NFC.String(s)
	s = strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
	s = lowerVI.String(s)
	return toneFolder.Replace(s)
}

// Upper trims and upper-cases a code value.
func Upper(s string) string {
	return upperVI.String(norm.NFC.String(strings.TrimSpace(s)))
}

// FormatDate renders t as dd/mm/yyyy, or "" when t is nil.
func FormatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(DisplayDateLayout)
}

// FormatStamp renders s as dd/mm/yyyy, or "" when s is nil.
func FormatStamp(s *models.Stamp) string {
	if s == nil {
		return ""
	}
	return s.Format(DisplayDateLayout)
}

// SameDay reports whether a and b fall on the same calendar day.
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// DayOf truncates t to its calendar day in UTC, the key used for all
// date grouping.
func DayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// InWindow reports whether the day of t is within [from, to].
func InWindow(t, from, to time.Time) bool {
	day := DayOf(t)
	return !day.Before(DayOf(from)) && !day.After(DayOf(to))
}

// JoinPeriods renders the distinct non-empty periods in chronological
// order, joined with sep.
func JoinPeriods(periods []models.Period, sep string) string {
	seen := make(map[models.Period]bool, len(periods))
	unique := make([]models.Period, 0, len(periods))
	for _, p := range periods {
		if p.IsZero() || seen[p] {
			continue
		}
		seen[p] = true
		unique = append(unique, p)
	}
	sort.SliceStable(unique, func(i, j int) bool {
		oi, oj := unique[i].Ordinal(), unique[j].Ordinal()
		if oi != oj {
			return oi < oj
		}
		return unique[i].String() < unique[j].String()
	})
	tags := make([]string, len(unique))
	for i, p := range unique {
		tags[i] = p.String()
	}
	return strings.Join(tags, sep)
}
