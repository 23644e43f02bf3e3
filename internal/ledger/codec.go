package ledger

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"
	"time"
)

const fieldCount = 6

// legacyTimestamp is the naive ISO-8601 form found in older ledger files.
const legacyTimestamp = "2006-01-02T15:04:05.999999999"

// Line breaks inside a field are written as \n and \r, with backslashes
// doubled, so every record occupies exactly one physical line.
var (
	escaper   = strings.NewReplacer(`\`, `\\`, "\n", `\n`, "\r", `\r`)
	unescaper = strings.NewReplacer(`\\`, `\`, `\n`, "\n", `\r`, "\r")
)

// EncodeRecord renders rec as one CSV line terminated by a newline.
// Fields containing commas or quotes are quoted.
func EncodeRecord(rec Record) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(fields(rec)); err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeRecord turns the six stored fields back into a Record.
func DecodeRecord(f []string) (Record, error) {
	if len(f) != fieldCount {
		return Record{}, fmt.Errorf("%w: got %d, want %d", ErrFieldCount, len(f), fieldCount)
	}
	ts, err := parseTimestamp(f[5])
	if err != nil {
		return Record{}, fmt.Errorf("timestamp %q: %w", f[5], err)
	}
	return Record{
		UserName:   unescaper.Replace(f[0]),
		EventTitle: unescaper.Replace(f[1]),
		EventURL:   unescaper.Replace(f[2]),
		Tickets:    unescaper.Replace(f[3]),
		Date:       unescaper.Replace(f[4]),
		CreatedAt:  ts,
	}, nil
}

func fields(rec Record) []string {
	return []string{
		escaper.Replace(rec.UserName),
		escaper.Replace(rec.EventTitle),
		escaper.Replace(rec.EventURL),
		escaper.Replace(rec.Tickets),
		escaper.Replace(rec.Date),
		rec.CreatedAt.Format(time.RFC3339Nano),
	}
}

func parseTimestamp(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts, nil
	}
	return time.ParseInLocation(legacyTimestamp, s, time.Local)
}
