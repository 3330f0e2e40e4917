package timeutil

import "time"

// stampFormat is the timestamp format used everywhere in the persisted
// document: ISO 8601 in UTC with millisecond precision, the format the
// board's data files have always been written in.
const stampFormat = "2006-01-02T15:04:05.000Z07:00"

// Stamp formats a time as a document timestamp.
func Stamp(t time.Time) string {
	return t.UTC().Format(stampFormat)
}

// ParseStamp parses a document timestamp. It's lenient in what it accepts --
// any RFC 3339 string parses, with or without fractional seconds -- because
// documents written by earlier versions of the board carried a few different
// shapes. Values that don't parse report ok == false and are treated as
// absent by callers rather than failing the whole document.
func ParseStamp(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}

	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}

	return t, true
}
