package council

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aristath/taskengine/internal/graph"
)

const (
	maxExcerptBytes   = 4 * 1024
	maxRationaleChars = 2000
	maxVerifyChars    = 2000
)

// outcomeContract is appended to every prompt so any conforming CLI backend
// knows how to report back.
const outcomeContract = `When you are done, print as the final line of output a single JSON object:
{"result": "success"|"failure"|"blocked", "confidence": 0-100, "rationale": "<one paragraph>"}`

// promptBuilder accumulates the sections of an attempt prompt.
type promptBuilder struct {
	b strings.Builder
}

func (p *promptBuilder) section(title, body string) {
	if body == "" {
		return
	}
	fmt.Fprintf(&p.b, "## %s\n\n%s\n\n", title, body)
}

func (p *promptBuilder) String() string { return strings.TrimSpace(p.b.String()) }

// taskBrief renders the invariant part of every prompt: what the task is and
// how completion will be checked.
func taskBrief(t *graph.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task %s: %s\n", t.ID, t.Subject)
	if t.Description != "" {
		fmt.Fprintf(&b, "\n%s\n", t.Description)
	}
	if len(t.Files) > 0 {
		fmt.Fprintf(&b, "\nFiles in scope: %s\n", strings.Join(t.Files, ", "))
	}
	if len(t.Verify) > 0 {
		fmt.Fprintf(&b, "\nCompletion is verified by running, in order:\n")
		for _, cmd := range t.Verify {
			fmt.Fprintf(&b, "  $ %s\n", cmd)
		}
		b.WriteString("Every command must exit 0.\n")
	}
	return b.String()
}

// historyDigest renders every prior attempt so no tier repeats an identical
// analysis on identical inputs.
func historyDigest(attempts []graph.Attempt) string {
	if len(attempts) == 0 {
		return ""
	}
	var b strings.Builder
	for _, a := range attempts {
		fmt.Fprintf(&b, "Attempt %d (tier %d, backend %s): %s, confidence %d\n",
			a.Number, a.Tier, a.Backend, a.Result, a.Confidence)
		if r := truncate(a.Rationale, maxRationaleChars); r != "" {
			fmt.Fprintf(&b, "  Rationale: %s\n", r)
		}
		if v := truncate(a.VerifyOut, maxVerifyChars); v != "" {
			fmt.Fprintf(&b, "  Verification output:\n%s\n", indent(v, "    "))
		}
	}
	return b.String()
}

// gatherContext is the static lookup step run before each tier after the
// first: it pulls excerpts of the files the task touches so the next tier
// works from the current state of the code, not from memory of it.
func gatherContext(projectDir string, files []string) string {
	var b strings.Builder
	for _, rel := range files {
		path := filepath.Join(projectDir, rel)
		data, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(&b, "--- %s: unreadable (%v)\n", rel, err)
			continue
		}
		excerpt := data
		clipped := false
		if len(excerpt) > maxExcerptBytes {
			excerpt = excerpt[:maxExcerptBytes]
			clipped = true
		}
		fmt.Fprintf(&b, "--- %s\n%s", rel, excerpt)
		if len(excerpt) > 0 && excerpt[len(excerpt)-1] != '\n' {
			b.WriteByte('\n')
		}
		if clipped {
			b.WriteString("[truncated]\n")
		}
	}
	return b.String()
}

// implementPrompt asks a backend to do the work. adopted carries the winning
// proposal when the tier adopted one.
func (c *Council) implementPrompt(t *graph.Task, history []graph.Attempt, tier int, adopted string) string {
	var p promptBuilder
	p.section("Task", taskBrief(t))
	p.section("Prior attempts", historyDigest(history))
	if tier > TierFast {
		p.section("Current state of the files in scope", gatherContext(c.projectDir, t.Files))
	}
	if adopted != "" {
		p.section("Adopted proposal", adopted+"\n\nImplement this proposal.")
	} else {
		p.section("Instruction", "Implement the task now, working in the current directory.")
	}
	p.section("Reporting", outcomeContract)
	return p.String()
}

// proposePrompt asks for analysis only. seed carries an earlier tier's root
// cause hypothesis when one exists.
func (c *Council) proposePrompt(t *graph.Task, history []graph.Attempt, seed string) string {
	var p promptBuilder
	p.section("Task", taskBrief(t))
	p.section("Prior attempts", historyDigest(history))
	p.section("Current state of the files in scope", gatherContext(c.projectDir, t.Files))
	p.section("Root cause hypothesis from deep analysis", seed)
	p.section("Instruction", `Do not modify any files. Analyze why prior attempts failed and produce a proposal:
the root cause as you see it, a concrete fix plan, and anything you would need to know to be more confident.
Your confidence score rates the plan, not the analysis.`)
	p.section("Reporting", outcomeContract)
	return p.String()
}

// deepPrompt is the root-cause tier: full accumulated context, then fix.
func (c *Council) deepPrompt(t *graph.Task, history []graph.Attempt) string {
	var p promptBuilder
	p.section("Task", taskBrief(t))
	p.section("Prior attempts", historyDigest(history))
	p.section("Current state of the files in scope", gatherContext(c.projectDir, t.Files))
	p.section("Instruction", `Every shallow attempt above has failed. Work from first principles:
state the root cause of the failures, state your recommendation, then implement the fix.
Put the root cause and recommendation in your rationale.`)
	p.section("Reporting", outcomeContract)
	return p.String()
}

// synthesisPrompt hands the scored proposals to the synthesizer.
func (c *Council) synthesisPrompt(t *graph.Task, history []graph.Attempt, seed string, proposals []proposal) string {
	var b strings.Builder
	for _, pr := range proposals {
		if pr.err != nil {
			continue
		}
		fmt.Fprintf(&b, "Proposal from %s (confidence %d):\n%s\n\n",
			pr.backend, pr.out.Confidence, truncate(pr.out.Rationale, maxRationaleChars))
	}

	var p promptBuilder
	p.section("Task", taskBrief(t))
	p.section("Prior attempts", historyDigest(history))
	p.section("Root cause hypothesis from deep analysis", seed)
	p.section("Council proposals", b.String())
	p.section("Current state of the files in scope", gatherContext(c.projectDir, t.Files))
	p.section("Instruction", "Select the strongest proposal, say why in your rationale, and implement it now.")
	p.section("Reporting", outcomeContract)
	return p.String()
}

// reanalysisPrompt drives the final tier's fresh deep pass.
func (c *Council) reanalysisPrompt(t *graph.Task, history []graph.Attempt) string {
	var p promptBuilder
	p.section("Task", taskBrief(t))
	p.section("Prior attempts", historyDigest(history))
	p.section("Current state of the files in scope", gatherContext(c.projectDir, t.Files))
	p.section("Instruction", `The full council's previous fix failed verification. Do not modify any files.
Re-analyze from scratch, discarding every prior hypothesis, and produce a new root cause and plan in your rationale.`)
	p.section("Reporting", outcomeContract)
	return p.String()
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}
