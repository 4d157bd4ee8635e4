package conflict

import "fmt"

// Strategy selects how a diverging local/remote pair is reconciled when
// no domain rule fires.
type Strategy string

const (
	// StrategyClientWins keeps the local version.
	StrategyClientWins Strategy = "client_wins"
	// StrategyServerWins keeps the remote version.
	StrategyServerWins Strategy = "server_wins"
	// StrategyTimestamp keeps the later lastUpdated; ties favor remote.
	StrategyTimestamp Strategy = "timestamp"
	// StrategyVersion keeps the numerically higher version id.
	StrategyVersion Strategy = "version"
	// StrategyMerge attempts a three-way merge against a common ancestor.
	StrategyMerge Strategy = "merge"
	// StrategyManual always queues the conflict for a human.
	StrategyManual Strategy = "manual"
)

// ParseStrategy maps a configuration string onto a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyClientWins, StrategyServerWins, StrategyTimestamp,
		StrategyVersion, StrategyMerge, StrategyManual:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("unknown strategy %q", s)
}
