package windowing

import (
	"log/slog"

	"github.com/petasbytes/event-handler/memory"
)

// Stats summarizes a prepared window.
type Stats struct {
	Total            int // estimated tokens of included groups
	Budget           int
	IncludedGroups   int
	SkippedGroups    int
	OverBudgetNewest bool // newest group alone exceeds Budget
}

// PrepareSendWindow returns the longest suffix of msgs made of whole groups
// whose estimated cost fits within budget. When the newest group alone does not
// fit (or budget <= 0) the window is empty and OverBudgetNewest is set.
func PrepareSendWindow(msgs []memory.Message, budget int, c TokenCounter) ([]memory.Message, Stats) {
	stats := Stats{Budget: budget}
	if len(msgs) == 0 {
		return nil, stats
	}
	groups := GroupBlocks(msgs)
	stats.SkippedGroups = len(groups)

	start := len(msgs)
	for gi := len(groups) - 1; gi >= 0; gi-- {
		cost := c.CountGroup(groups[gi], msgs)
		if stats.Total+cost > budget {
			break
		}
		stats.Total += cost
		stats.IncludedGroups++
		start = groups[gi].Start
	}
	stats.SkippedGroups = len(groups) - stats.IncludedGroups

	if stats.IncludedGroups == 0 {
		stats.OverBudgetNewest = true
		slog.Debug("windowing: newest group over budget", "budget", budget, "groups", len(groups))
		return nil, stats
	}
	return msgs[start:], stats
}
