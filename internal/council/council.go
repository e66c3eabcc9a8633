// Package council implements the tiered escalation policy for
// repeatedly-failing tasks. Each tier buys more analytical depth: a single
// fast backend first, then a scored pair, then deep root-cause analysis with
// the full attempt history, then a full proposal round with a synthesizer,
// and one final re-analysis round. Which tier an attempt runs at is a pure
// function of the task's confidence history; the council only executes it.
package council

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/aristath/taskengine/internal/auditlog"
	"github.com/aristath/taskengine/internal/backend"
	"github.com/aristath/taskengine/internal/config"
	"github.com/aristath/taskengine/internal/dispatch"
	"github.com/aristath/taskengine/internal/graph"
	"github.com/aristath/taskengine/internal/logging"
	"github.com/aristath/taskengine/internal/workspace"
)

// Report is what one tier execution produced. Backend names the backend
// credited with the attempt record; for proposal rounds that is the backend
// whose work was adopted.
type Report struct {
	Tier    int
	Backend string
	Outcome backend.Outcome
}

// Council executes escalation tiers against the configured backends.
type Council struct {
	dispatcher *dispatch.Dispatcher
	tiers      config.TierConfig
	audit      auditlog.Log
	projectDir string
	log        *logging.Logger
}

// New creates a council. The audit log supplies prior attempt history for
// prompt construction; it is never written here.
func New(d *dispatch.Dispatcher, tiers config.TierConfig, audit auditlog.Log, projectDir string, log *logging.Logger) *Council {
	return &Council{
		dispatcher: d,
		tiers:      tiers,
		audit:      audit,
		projectDir: projectDir,
		log:        log.WithComponent("council"),
	}
}

// Thresholds returns the configured confidence knobs.
func (c *Council) Thresholds() Thresholds {
	return Thresholds{Adopt: c.tiers.AdoptThreshold, Skip: c.tiers.SkipThreshold}
}

// Plan returns the tier the task's next attempt must run at, or ErrExhausted
// when the ladder has run out.
func (c *Council) Plan(t *graph.Task) (int, error) {
	tier, ok := TierFor(t.Confidences, c.Thresholds())
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrExhausted, t.ID)
	}
	return tier, nil
}

// Execute runs one attempt of the task at the given tier. The heartbeat is
// invoked for every output line of every execution in the tier, so a
// multi-backend round keeps the stall clock fresh as long as any member is
// talking.
func (c *Council) Execute(ctx context.Context, t *graph.Task, tier int, ws *workspace.Info, heartbeat func(line string)) (Report, error) {
	history, err := c.audit.Attempts(ctx, t.ID)
	if err != nil {
		return Report{}, fmt.Errorf("loading attempt history: %w", err)
	}

	switch tier {
	case TierFast:
		return c.runOne(ctx, t, tier, c.tiers.Fast, c.implementPrompt(t, history, tier, ""), ws.LogPath, heartbeat)
	case TierPair:
		return c.runPair(ctx, t, history, ws, heartbeat)
	case TierDeep:
		return c.runOne(ctx, t, tier, c.tiers.Deep, c.deepPrompt(t, history), ws.LogPath, heartbeat)
	case TierCouncil:
		seed := lastRationale(history, TierDeep)
		return c.runCouncilRound(ctx, t, tier, history, seed, ws, heartbeat)
	case TierFinal:
		return c.runFinal(ctx, t, history, ws, heartbeat)
	default:
		return Report{}, fmt.Errorf("no escalation tier %d", tier)
	}
}

// runOne executes a single backend and reports its outcome as the tier's.
func (c *Council) runOne(ctx context.Context, t *graph.Task, tier int, name, prompt, logPath string, heartbeat func(string)) (Report, error) {
	out, err := c.dispatcher.Run(ctx, t, name, backend.ExecContext{
		WorkDir:   c.projectDir,
		Prompt:    prompt,
		LogPath:   logPath,
		Heartbeat: heartbeat,
	})
	if err != nil {
		return Report{Tier: tier, Backend: name}, err
	}
	return Report{Tier: tier, Backend: name, Outcome: out}, nil
}

// proposal is one backend's scored analysis from a parallel round.
type proposal struct {
	backend string
	out     backend.Outcome
	err     error
}

// runProposals fans the propose-only prompt out to the named backends in
// parallel. Each gets its own log file inside the attempt workspace. A
// backend failing does not cancel its siblings; the round works with
// whatever came back.
func (c *Council) runProposals(ctx context.Context, t *graph.Task, names []string, prompt string, ws *workspace.Info, heartbeat func(string)) []proposal {
	proposals := make([]proposal, len(names))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			out, err := c.dispatcher.Run(gctx, t, name, backend.ExecContext{
				WorkDir:   c.projectDir,
				Prompt:    prompt,
				LogPath:   filepath.Join(ws.Path, fmt.Sprintf("proposal-%s.log", name)),
				Heartbeat: heartbeat,
			})
			mu.Lock()
			proposals[i] = proposal{backend: name, out: out, err: err}
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	return proposals
}

// runPair is the second tier: two backends propose in parallel and the
// higher-confidence proposal is adopted if it clears the threshold. Adoption
// means the winning backend implements its own plan.
func (c *Council) runPair(ctx context.Context, t *graph.Task, history []graph.Attempt, ws *workspace.Info, heartbeat func(string)) (Report, error) {
	prompt := c.proposePrompt(t, history, "")
	proposals := c.runProposals(ctx, t, c.tiers.Pair, prompt, ws, heartbeat)

	best, ok := bestProposal(proposals)
	if !ok {
		return Report{Tier: TierPair}, firstError(proposals)
	}

	c.log.Info("pair round scored",
		"task_id", t.ID, "winner", best.backend, "confidence", best.out.Confidence)

	if best.out.Confidence < c.tiers.AdoptThreshold {
		return Report{Tier: TierPair, Backend: best.backend, Outcome: backend.Outcome{
			Result:     graph.ResultFailure,
			Confidence: best.out.Confidence,
			Rationale:  best.out.Rationale,
		}}, nil
	}

	implPrompt := c.implementPrompt(t, history, TierPair, best.out.Rationale)
	return c.runOne(ctx, t, TierPair, best.backend, implPrompt, ws.LogPath, heartbeat)
}

// runCouncilRound is the full council: every member proposes against the
// seeded root cause, then the synthesizer selects and implements the
// strongest proposal.
func (c *Council) runCouncilRound(ctx context.Context, t *graph.Task, tier int, history []graph.Attempt, seed string, ws *workspace.Info, heartbeat func(string)) (Report, error) {
	prompt := c.proposePrompt(t, history, seed)
	proposals := c.runProposals(ctx, t, c.tiers.Council, prompt, ws, heartbeat)

	if _, ok := bestProposal(proposals); !ok {
		return Report{Tier: tier}, firstError(proposals)
	}

	synth := c.synthesisPrompt(t, history, seed, proposals)
	return c.runOne(ctx, t, tier, c.tiers.Synthesizer, synth, ws.LogPath, heartbeat)
}

// runFinal is the last tier: the deep backend re-analyzes given everything
// that failed so far, and its fresh analysis seeds one more council round.
func (c *Council) runFinal(ctx context.Context, t *graph.Task, history []graph.Attempt, ws *workspace.Info, heartbeat func(string)) (Report, error) {
	out, err := c.dispatcher.Run(ctx, t, c.tiers.Deep, backend.ExecContext{
		WorkDir:   c.projectDir,
		Prompt:    c.reanalysisPrompt(t, history),
		LogPath:   filepath.Join(ws.Path, "reanalysis.log"),
		Heartbeat: heartbeat,
	})

	seed := lastRationale(history, TierCouncil)
	if err == nil && out.Rationale != "" {
		seed = out.Rationale
	} else if err != nil {
		c.log.Warn("final re-analysis failed, council proceeds on prior context",
			"task_id", t.ID, "error", err)
	}

	return c.runCouncilRound(ctx, t, TierFinal, history, seed, ws, heartbeat)
}

// Diagnose composes the human-facing summary persisted when a task goes
// terminally blocked: every attempt, every confidence, and the deepest root
// cause the ladder produced.
func (c *Council) Diagnose(ctx context.Context, t *graph.Task) string {
	history, err := c.audit.Attempts(ctx, t.ID)
	if err != nil || len(history) == 0 {
		return fmt.Sprintf("escalation exhausted after %d attempts; no attempt history available", t.Attempt)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "escalation exhausted after %d attempts\n", len(history))
	for _, a := range history {
		fmt.Fprintf(&b, "attempt %d: tier %d, backend %s, %s, confidence %d\n",
			a.Number, a.Tier, a.Backend, a.Result, a.Confidence)
	}
	if root := lastRationale(history, TierDeep); root != "" {
		fmt.Fprintf(&b, "root cause hypothesis: %s\n", truncate(root, maxRationaleChars))
	}
	last := history[len(history)-1]
	if last.VerifyOut != "" {
		fmt.Fprintf(&b, "last verification output:\n%s\n", indent(truncate(last.VerifyOut, maxVerifyChars), "  "))
	}
	return strings.TrimSpace(b.String())
}

// bestProposal returns the highest-confidence proposal that actually ran.
func bestProposal(proposals []proposal) (proposal, bool) {
	ok := proposals[:0:0]
	for _, p := range proposals {
		if p.err == nil {
			ok = append(ok, p)
		}
	}
	if len(ok) == 0 {
		return proposal{}, false
	}
	sort.SliceStable(ok, func(i, j int) bool { return ok[i].out.Confidence > ok[j].out.Confidence })
	return ok[0], true
}

func firstError(proposals []proposal) error {
	for _, p := range proposals {
		if p.err != nil {
			return fmt.Errorf("no proposal survived, first failure from %s: %w", p.backend, p.err)
		}
	}
	return fmt.Errorf("no proposals returned")
}

// lastRationale returns the rationale of the most recent attempt at the
// given tier, or empty.
func lastRationale(history []graph.Attempt, tier int) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Tier == tier && history[i].Rationale != "" {
			return history[i].Rationale
		}
	}
	return ""
}
