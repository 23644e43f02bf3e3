package conversation

import (
	"fmt"
	"strings"
)

const (
	bookTag   = "book"
	separator = '|'
	escape    = '\\'
)

// TokenError reports a selection token that cannot be trusted.
type TokenError struct {
	Token  string
	Reason string
}

func (e *TokenError) Error() string {
	return fmt.Sprintf("selection token %q: %s", e.Token, e.Reason)
}

// EncodeSelection renders sel as "book|<title>|<url>". Separators and
// backslashes inside the fields are backslash-escaped.
func EncodeSelection(sel Selection) string {
	var b strings.Builder
	b.WriteString(bookTag)
	for _, f := range []string{sel.Title, sel.URL} {
		b.WriteRune(separator)
		for _, r := range f {
			if r == separator || r == escape {
				b.WriteRune(escape)
			}
			b.WriteRune(r)
		}
	}
	return b.String()
}

// DecodeSelection parses a token produced by EncodeSelection. Anything but
// the book tag followed by exactly two fields is rejected.
func DecodeSelection(token string) (Selection, error) {
	var (
		parts []string
		cur   strings.Builder
		esc   bool
	)
	for _, r := range token {
		switch {
		case esc:
			if r != separator && r != escape {
				return Selection{}, &TokenError{Token: token, Reason: fmt.Sprintf("invalid escape %q", r)}
			}
			cur.WriteRune(r)
			esc = false
		case r == escape:
			esc = true
		case r == separator:
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	if esc {
		return Selection{}, &TokenError{Token: token, Reason: "dangling escape"}
	}
	parts = append(parts, cur.String())

	if len(parts) != 3 {
		return Selection{}, &TokenError{Token: token, Reason: fmt.Sprintf("want 3 fields, got %d", len(parts))}
	}
	if parts[0] != bookTag {
		return Selection{}, &TokenError{Token: token, Reason: fmt.Sprintf("unknown tag %q", parts[0])}
	}
	if parts[1] == "" || parts[2] == "" {
		return Selection{}, &TokenError{Token: token, Reason: "empty title or url"}
	}
	return Selection{Title: parts[1], URL: parts[2]}, nil
}
