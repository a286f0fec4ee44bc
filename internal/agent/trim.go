package agent

import (
	"go.uber.org/zap"

	"github.com/joss/codecrew/internal/domain"
	"github.com/joss/codecrew/internal/logging"
	"github.com/joss/codecrew/internal/tokens"
)

// Trim bounds history for one invocation. System messages are always kept.
// When the estimated cost of the whole history is within budget it is
// returned unchanged; otherwise only the newest keepLast non-system
// messages survive, placed after the system messages. It also reports how
// many messages were dropped.
func Trim(msgs []domain.Message, budget, keepLast int, est tokens.Estimator, log *logging.Logger) ([]domain.Message, int) {
	if est == nil {
		est = tokens.Chars{}
	}
	if est.Estimate(msgs) < budget {
		return msgs, 0
	}

	var system, others []domain.Message
	for _, m := range msgs {
		if m.IsSystem() {
			system = append(system, m)
		} else {
			others = append(others, m)
		}
	}
	if keepLast < 0 {
		keepLast = 0
	}
	kept := others
	if len(others) > keepLast {
		kept = others[len(others)-keepLast:]
	}
	// A tool result whose request was cut off is meaningless to the model.
	for len(kept) > 0 && kept[0].Role == domain.RoleTool {
		kept = kept[1:]
	}

	dropped := len(others) - len(kept)
	if dropped > 0 && log != nil {
		log.Info("Dropped old messages", zap.Int("dropped", dropped), zap.Int("kept", len(kept)))
	}

	out := make([]domain.Message, 0, len(system)+len(kept))
	out = append(out, system...)
	return append(out, kept...), dropped
}
