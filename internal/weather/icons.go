package weather

// WMO weather interpretation codes grouped the way the calendar draws them.
type bucket struct {
	lo, hi    int
	icon      string
	condition string
}

var buckets = []bucket{
	{0, 0, "☀️", "맑음"},
	{1, 3, "⛅", "구름 조금"},
	{45, 48, "🌫️", "안개"},
	{51, 55, "🌦️", "이슬비"},
	{61, 67, "🌧️", "비"},
	{71, 77, "❄️", "눈"},
	{80, 82, "🌧️", "소나기"},
	{85, 86, "❄️", "눈 소나기"},
	{95, 99, "⛈️", "뇌우"},
}

const (
	unknownIcon      = "🌡️"
	unknownCondition = "알 수 없음"
)

// IconFor maps a WMO code to its display glyph.
func IconFor(code int) string {
	for _, b := range buckets {
		if code >= b.lo && code <= b.hi {
			return b.icon
		}
	}
	return unknownIcon
}

// ConditionFor maps a WMO code to a short Korean label.
func ConditionFor(code int) string {
	for _, b := range buckets {
		if code >= b.lo && code <= b.hi {
			return b.condition
		}
	}
	return unknownCondition
}
