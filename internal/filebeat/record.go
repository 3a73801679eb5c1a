package filebeat

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrMalformedRecord means the payload looked like JSON but did not decode
	// into a Filebeat record.
	ErrMalformedRecord = errors.New("malformed filebeat record")
	// ErrIncompleteRecord means the JSON decoded but a required field was
	// missing or null.
	ErrIncompleteRecord = errors.New("incomplete filebeat record")
	// ErrInvalidTimestamp means @timestamp is not an ISO-8601 date-time.
	ErrInvalidTimestamp = errors.New("invalid filebeat timestamp")
)

// Separator joins the fields of a converted line.
const Separator = "\t"

// timestampLayouts accept the ISO-8601 date-time profile Filebeat emits:
// optional fractional seconds after '.' or ',' and a mandatory offset, with
// or without colon.
var timestampLayouts = []string{
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999Z0700",
}

// Beat identifies the shipper that produced a record.
type Beat struct {
	Hostname string `json:"hostname"`
	Name     string `json:"name"`
}

// Record is a decoded Filebeat event:
//
//	{"@timestamp":"2016-07-09T11:40:05.684Z","beat":{"hostname":"h","name":"n"},"message":"128","type":"log"}
//
// Fields other than @timestamp, beat and message are ignored.
type Record struct {
	Timestamp string
	Beat      Beat
	Message   string
}

// wireRecord distinguishes absent fields from empty ones.
type wireRecord struct {
	Timestamp *string `json:"@timestamp"`
	Beat      *struct {
		Hostname *string `json:"hostname"`
		Name     *string `json:"name"`
	} `json:"beat"`
	Message *string `json:"message"`
}

// Decode parses a JSON payload into a Record. Syntax and type errors wrap
// ErrMalformedRecord; missing or null fields wrap ErrIncompleteRecord.
func Decode(payload []byte) (*Record, error) {
	var w wireRecord
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}

	switch {
	case w.Timestamp == nil:
		return nil, fmt.Errorf("%w: missing @timestamp", ErrIncompleteRecord)
	case w.Beat == nil:
		return nil, fmt.Errorf("%w: missing beat", ErrIncompleteRecord)
	case w.Beat.Name == nil:
		return nil, fmt.Errorf("%w: missing beat.name", ErrIncompleteRecord)
	case w.Beat.Hostname == nil:
		return nil, fmt.Errorf("%w: missing beat.hostname", ErrIncompleteRecord)
	case w.Message == nil:
		return nil, fmt.Errorf("%w: missing message", ErrIncompleteRecord)
	}

	return &Record{
		Timestamp: *w.Timestamp,
		Beat: Beat{
			Hostname: *w.Beat.Hostname,
			Name:     *w.Beat.Name,
		},
		Message: *w.Message,
	}, nil
}

// Line renders the record in tailer shape: name, message and hostname joined
// by tabs. Tabs or newlines inside the fields are not escaped.
func (r *Record) Line() string {
	return strings.Join([]string{r.Beat.Name, r.Message, r.Beat.Hostname}, Separator)
}

// TimestampMillis returns @timestamp as milliseconds since the Unix epoch.
func (r *Record) TimestampMillis() (int64, error) {
	t, err := ParseTimestamp(r.Timestamp)
	if err != nil {
		return 0, err
	}
	return t.UnixMilli(), nil
}

// ParseTimestamp parses an ISO-8601 date-time such as 2016-07-09T01:01:01.001Z.
func ParseTimestamp(s string) (time.Time, error) {
	var firstErr error
	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q: %v", ErrInvalidTimestamp, s, firstErr)
}

// IsRecordShaped reports whether payload should be treated as a Filebeat JSON
// record. Only the first byte is inspected; anything else is assumed to be in
// tailer shape already.
func IsRecordShaped(payload []byte) bool {
	return len(payload) > 0 && payload[0] == '{'
}
