package merge

import "fmt"

// Strategy decides which copy wins a genuine conflict: two copies of the same
// record with different content and modification times inside the tolerance.
type Strategy string

const (
	// StrategyKeepLocal keeps the local copy and does not report the conflict.
	StrategyKeepLocal Strategy = "keep-local"

	// StrategyKeepRemote keeps the remote copy and does not report the conflict.
	StrategyKeepRemote Strategy = "keep-remote"

	// StrategyKeepBoth keeps the local copy and reports the conflict so it can
	// be reconciled by hand. It does not fork a second record.
	StrategyKeepBoth Strategy = "keep-both"

	// StrategyKeepNewest keeps the copy with the later modification time; on an
	// exact tie the local copy wins.
	StrategyKeepNewest Strategy = "keep-newest"
)

// DefaultStrategy is used when none is configured.
const DefaultStrategy = StrategyKeepNewest

// IsValid returns true if the strategy is recognized.
func (s Strategy) IsValid() bool {
	switch s {
	case StrategyKeepLocal, StrategyKeepRemote, StrategyKeepBoth, StrategyKeepNewest:
		return true
	default:
		return false
	}
}

// String returns the string representation of the strategy.
func (s Strategy) String() string {
	return string(s)
}

// Description returns a human-readable description of the strategy.
func (s Strategy) Description() string {
	switch s {
	case StrategyKeepLocal:
		return "Keep this device's copy"
	case StrategyKeepRemote:
		return "Keep the replica's copy"
	case StrategyKeepBoth:
		return "Keep this device's copy and report the conflict"
	case StrategyKeepNewest:
		return "Keep the most recently modified copy"
	default:
		return "Unknown strategy"
	}
}

// AllStrategies returns all supported strategies.
func AllStrategies() []Strategy {
	return []Strategy{StrategyKeepLocal, StrategyKeepRemote, StrategyKeepBoth, StrategyKeepNewest}
}

// ParseStrategy converts a configured value into a Strategy.
// An empty value selects DefaultStrategy.
func ParseStrategy(s string) (Strategy, error) {
	if s == "" {
		return DefaultStrategy, nil
	}
	st := Strategy(s)
	if !st.IsValid() {
		return "", fmt.Errorf("unknown merge strategy %q (want one of %v)", s, AllStrategies())
	}
	return st, nil
}
