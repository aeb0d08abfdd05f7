package transcript

import "github.com/RichardoC/scout/internal/models"

// Stats summarizes a windowing pass for logging.
type Stats struct {
	Total    int // estimated tokens for the included messages
	Budget   int
	Included int // groups kept
	Skipped  int // groups dropped
}

// Fixed per-message overhead covering role and framing tokens.
const messageOverhead = 4

func messageCost(m models.Message, c TokenCounter) int {
	cost := c.Count(m.Content) + messageOverhead
	for _, tc := range m.ToolCalls {
		cost += c.Count(tc.Name) + c.Count(tc.Arguments) + messageOverhead
	}
	return cost
}

func groupCost(g Group, msgs []models.Message, c TokenCounter) int {
	total := 0
	for i := g.Start; i < g.End; i++ {
		total += messageCost(msgs[i], c)
	}
	return total
}

// Window returns the newest suffix of history whose estimated cost fits the
// budget, scanning whole groups newest to oldest so an assistant message is
// never separated from its tool results. The newest group is always kept even
// when it alone exceeds the budget: a turn has to send at least the message
// that started it.
func Window(history []models.Message, budget int, c TokenCounter) ([]models.Message, Stats) {
	if len(history) == 0 {
		return history, Stats{Budget: budget}
	}

	groups := GroupMessages(history)
	total := 0
	included := 0
	start := len(groups)

	for gi := len(groups) - 1; gi >= 0; gi-- {
		cost := groupCost(groups[gi], history, c)
		if included > 0 && total+cost > budget {
			break
		}
		total += cost
		included++
		start = gi
	}

	stats := Stats{
		Total:    total,
		Budget:   budget,
		Included: included,
		Skipped:  len(groups) - included,
	}

	// A window must not open with tool results; skip any stranded ones whose
	// assistant message fell outside the budget.
	startMsg := groups[start].Start
	for startMsg < len(history) && history[startMsg].Role == models.RoleTool {
		startMsg++
	}
	return history[startMsg:], stats
}
