package schema

import (
	"sort"
	"strings"
	"time"
)

// Wire layouts for dates and timestamps.
const (
	DateLayout      = "2006-01-02"
	TimestampLayout = time.RFC3339
)

// ParticipantSeparator joins participant names inside a single field.
const ParticipantSeparator = ";"

// Record is the wire form of a Transaction: every field is a string and
// references hold display names rather than local identifiers.
type Record struct {
	ID           string
	Date         string // YYYY-MM-DD
	Amount       string // canonical decimal, no grouping or symbol
	Type         string
	Category     string
	Payer        string
	Participants string // names joined by ParticipantSeparator
	Note         string
	Merchant     string
	Source       string
	CreatedAt    string // RFC 3339
	ModifiedAt   string // RFC 3339
	Currency     string
}

// BusinessEqual reports whether r and o carry the same business content.
// ID and timestamps are excluded; strings are compared exactly.
func (r Record) BusinessEqual(o Record) bool {
	return r.Date == o.Date &&
		r.Amount == o.Amount &&
		r.Type == o.Type &&
		r.Category == o.Category &&
		r.Payer == o.Payer &&
		r.Participants == o.Participants &&
		r.Note == o.Note &&
		r.Merchant == o.Merchant &&
		r.Source == o.Source &&
		r.Currency == o.Currency
}

// ParticipantNames splits the participants field into names.
// An empty field yields no names.
func (r Record) ParticipantNames() []string {
	if r.Participants == "" {
		return nil
	}
	return strings.Split(r.Participants, ParticipantSeparator)
}

// Modified parses ModifiedAt. ok is false when the value is not a timestamp.
func (r Record) Modified() (t time.Time, ok bool) {
	t, err := time.Parse(time.RFC3339Nano, r.ModifiedAt)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// PartitionName returns the partition holding this record, or "" when the
// date is not a valid YYYY-MM-DD value.
func (r Record) PartitionName() string {
	d, err := time.Parse(DateLayout, r.Date)
	if err != nil {
		return ""
	}
	return PartitionName(d)
}

// JoinParticipants builds the participants field from a set of names.
// Names are sorted and de-duplicated; empty names are dropped.
func JoinParticipants(names []string) string {
	seen := make(map[string]bool, len(names))
	uniq := make([]string, 0, len(names))
	for _, n := range names {
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		uniq = append(uniq, n)
	}
	sort.Strings(uniq)
	return strings.Join(uniq, ParticipantSeparator)
}

// FormatDate renders a business date for the wire.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// FormatTimestamp renders a created/modified timestamp for the wire.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}
