package schema

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

const (
	partitionPrefix = "transactions_"
	partitionExt    = ".csv"
)

// partitionPattern matches a partition file and captures year, month and the
// optional suffix a sync substrate adds to conflicting copies.
var partitionPattern = regexp.MustCompile(`^transactions_(\d{4})-(\d{2})(.*)\.csv$`)

// PartitionName returns the canonical file name for the month of date.
// Format: transactions_YYYY-MM.csv
func PartitionName(date time.Time) string {
	return fmt.Sprintf("%s%04d-%02d%s", partitionPrefix, date.Year(), int(date.Month()), partitionExt)
}

// PartitionKey identifies a partition by calendar month.
type PartitionKey struct {
	Year  int
	Month time.Month
}

// Name returns the canonical file name for the key.
func (k PartitionKey) Name() string {
	return PartitionName(time.Date(k.Year, k.Month, 1, 0, 0, 0, 0, time.UTC))
}

// ParsePartitionName recognises a partition file name.
//
// Canonical names have an empty suffix. A non-empty suffix marks an alternate
// copy left by the sync substrate, e.g. "transactions_2024-05 2.csv" has
// suffix " 2".
func ParsePartitionName(name string) (key PartitionKey, suffix string, ok bool) {
	m := partitionPattern.FindStringSubmatch(name)
	if m == nil {
		return PartitionKey{}, "", false
	}
	year, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	if month < 1 || month > 12 {
		return PartitionKey{}, "", false
	}
	return PartitionKey{Year: year, Month: time.Month(month)}, m[3], true
}

// IsCanonicalPartition reports whether name is a canonical partition name.
func IsCanonicalPartition(name string) bool {
	_, suffix, ok := ParsePartitionName(name)
	return ok && suffix == ""
}
