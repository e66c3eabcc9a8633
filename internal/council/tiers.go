package council

import (
	"errors"
)

// Escalation tiers, in increasing analytical depth.
const (
	TierFast    = 0 // single fast backend
	TierPair    = 1 // two backends in parallel, adopt the higher confidence
	TierDeep    = 2 // deep backend with the full accumulated context
	TierCouncil = 3 // every backend proposes, the synthesizer implements
	TierFinal   = 4 // deep re-analysis, then one more council round
)

// ErrExhausted marks a task whose escalation ladder has run out. The engine
// turns it into a terminal blocked status.
var ErrExhausted = errors.New("escalation exhausted")

// Thresholds are the empirical confidence knobs. They come from
// configuration, never from literals at call sites.
type Thresholds struct {
	Adopt int // minimum confidence to adopt a proposal
	Skip  int // below this at the early tiers, jump straight to deep analysis
}

// NextTier decides where a task goes after a failed attempt at the current
// tier. Low confidence at the early tiers skips straight to deep analysis;
// there is no point running a second shallow attempt on a problem the first
// one barely understood. Returns false when no tier remains.
func NextTier(current int, confidences []int, th Thresholds) (int, bool) {
	if current >= TierFinal {
		return 0, false
	}
	next := current + 1
	if current <= TierPair && len(confidences) > 0 && confidences[len(confidences)-1] < th.Skip {
		next = TierDeep
	}
	return next, true
}

// TierFor folds the full confidence history through NextTier to find the tier
// the next attempt should run at. An empty history starts at TierFast.
// Returns false when the history already exhausted the ladder.
func TierFor(confidences []int, th Thresholds) (int, bool) {
	tier := TierFast
	for i := range confidences {
		next, ok := NextTier(tier, confidences[:i+1], th)
		if !ok {
			return 0, false
		}
		tier = next
	}
	return tier, true
}
