package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/leapstack-labs/leapdbt/internal/engine"
	"github.com/leapstack-labs/leapdbt/internal/state"
)

// printResults writes one line per node outcome plus a summary.
func printResults(out io.Writer, result *engine.RunResult) {
	for _, res := range result.Results {
		switch res.Status {
		case state.NodeRunStatusSuccess:
			if res.Rows > 0 {
				fmt.Fprintf(out, "  OK    %s (%d rows, %s)\n",
					res.UniqueID, res.Rows, res.Duration.Round(roundTo))
			} else {
				fmt.Fprintf(out, "  OK    %s (%s)\n",
					res.UniqueID, res.Duration.Round(roundTo))
			}
		case state.NodeRunStatusFailed:
			fmt.Fprintf(out, "  FAIL  %s: %s\n", res.UniqueID, res.Message)
		case state.NodeRunStatusSkipped:
			fmt.Fprintf(out, "  SKIP  %s: %s\n", res.UniqueID, res.Message)
		}
	}

	succeeded, failed, skipped := result.Counts()
	fmt.Fprintf(out, "\nDone: %d ok, %d failed, %d skipped in %s\n",
		succeeded, failed, skipped, result.Duration.Round(roundTo))
}

// splitSelect parses a comma-separated --select payload.
func splitSelect(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
