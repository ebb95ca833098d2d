package record

import "strconv"

func itoa(i int64) string { return strconv.FormatInt(i, 10) }

func ftoa(f float64) string { return strconv.FormatFloat(f, 'g', -1, 64) }

// parseNumericText attempts to parse s as an integer or float literal,
// the way SQLite's numeric-affinity coercion does. Returns ok=false if s
// is not entirely numeric (leading/trailing whitespace is tolerated).
func parseNumericText(s string) (i *int64, f *float64, ok bool) {
	t := trimSpace(s)
	if t == "" {
		return nil, nil, false
	}
	if iv, err := strconv.ParseInt(t, 10, 64); err == nil {
		return &iv, nil, true
	}
	if fv, err := strconv.ParseFloat(t, 64); err == nil {
		return nil, &fv, true
	}
	return nil, nil, false
}

func trimSpace(s string) string {
	start, end := 0, len(s)
	for start < end && isSpace(s[start]) {
		start++
	}
	for end > start && isSpace(s[end-1]) {
		end--
	}
	return s[start:end]
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
