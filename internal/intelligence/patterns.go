package intelligence

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/agnivade/levenshtein"

	"github.com/ariacorp/ariarun/internal/domain"
)

// PatternStore is the persistence seam the pattern processor reads and
// writes through — the subset of internal/persistence.Store's API this
// package needs, scoped to one user's per-user database.
type PatternStore interface {
	ListPatterns(ctx context.Context) ([]domain.ContainerPattern, error)
	UpsertPattern(ctx context.Context, p domain.ContainerPattern) error
	RecordLearningFeedback(ctx context.Context, patternID, outcome string, delta float64) error
}

// MatchKind distinguishes a resolved pattern match from a request that
// needs a brand-new pattern (§4.11 "Container pattern processor").
type MatchKind string

const (
	MatchPattern  MatchKind = "pattern_match"
	MatchCreate   MatchKind = "create_new"
)

// Match is the result of matching a container request against stored
// patterns.
type Match struct {
	Kind       MatchKind
	Pattern    domain.ContainerPattern
	Template   domain.ContainerSpec
	Confidence float64
	Warning    string
}

// LearningConfig bounds the confidence-delta math of §4.11 "Workload
// learning".
type LearningConfig struct {
	SimilarityThreshold float64
	LearningRate        float64
	MinConfidence       float64
	MaxConfidence       float64
	PruningThreshold    float64
	MaxPatternAgeDays   int
}

// SetDefaults fills in the spec's stated defaults.
func (c *LearningConfig) SetDefaults() {
	if c.SimilarityThreshold == 0 {
		c.SimilarityThreshold = 0.6
	}
	if c.LearningRate == 0 {
		c.LearningRate = 0.1
	}
	if c.MaxConfidence == 0 {
		c.MaxConfidence = 1.0
	}
	if c.PruningThreshold == 0 {
		c.PruningThreshold = 0.2
	}
	if c.MaxPatternAgeDays == 0 {
		c.MaxPatternAgeDays = 30
	}
}

// PatternProcessor implements trigger matching, variable extraction, and
// confidence learning over stored ContainerPatterns.
type PatternProcessor struct {
	store  PatternStore
	cfg    LearningConfig
}

// NewPatternProcessor builds a processor with the given config (zero value
// gets spec defaults applied).
func NewPatternProcessor(store PatternStore, cfg LearningConfig) *PatternProcessor {
	cfg.SetDefaults()
	return &PatternProcessor{store: store, cfg: cfg}
}

// similarity returns a normalized [0,1] similarity score between a and b
// using the Levenshtein edit distance.
func similarity(a, b string) float64 {
	if a == "" && b == "" {
		return 1
	}
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 1
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1 - float64(dist)/float64(maxLen)
}

var variablePattern = regexp.MustCompile(`\{(\w+)\}`)

// extractVariables pulls named {var} placeholders out of a pattern's
// trigger template and matches their values positionally against the
// request description's words.
func extractVariables(trigger, description string, names []string) map[string]string {
	values := make(map[string]string, len(names))
	triggerWords := regexp.MustCompile(`\s+`).Split(trigger, -1)
	descWords := regexp.MustCompile(`\s+`).Split(description, -1)

	for i, tw := range triggerWords {
		if m := variablePattern.FindStringSubmatch(tw); m != nil && i < len(descWords) {
			values[m[1]] = descWords[i]
		}
	}
	return values
}

func overlay(template domain.ContainerSpec, variables map[string]string) domain.ContainerSpec {
	out := template
	out.Env = make(map[string]string, len(template.Env))
	for k, v := range template.Env {
		out.Env[k] = v
	}
	for name, value := range variables {
		out.Env[name] = value
	}
	return out
}

// Match attempts to match description against the store's patterns,
// returning the best match above the similarity threshold, or CreateNew.
func (p *PatternProcessor) Match(ctx context.Context, description string) (Match, error) {
	patterns, err := p.store.ListPatterns(ctx)
	if err != nil {
		return Match{}, fmt.Errorf("intelligence: list patterns: %w", err)
	}

	var best domain.ContainerPattern
	bestSim := 0.0
	for _, pat := range patterns {
		sim := similarity(pat.Trigger, description)
		if sim > bestSim {
			bestSim = sim
			best = pat
		}
	}

	if bestSim < p.cfg.SimilarityThreshold {
		return Match{Kind: MatchCreate, Confidence: 0.5, Warning: "no stored pattern exceeded the similarity threshold"}, nil
	}

	variables := extractVariables(best.Trigger, description, best.Variables)
	return Match{
		Kind: MatchPattern, Pattern: best, Template: overlay(best.Template, variables),
		Confidence: best.Confidence * bestSim,
	}, nil
}

// RecordOutcome applies the §4.11 workload-learning confidence delta after
// a container execution completes, updates the pattern's usage stats, and
// persists both.
func (p *PatternProcessor) RecordOutcome(ctx context.Context, pattern domain.ContainerPattern, success bool, executionMS int64) error {
	delta := -p.cfg.LearningRate
	outcome := "failure"
	if success {
		delta = p.cfg.LearningRate
		outcome = "success"
	}
	pattern.Confidence = clamp(pattern.Confidence+delta, p.cfg.MinConfidence, p.cfg.MaxConfidence)

	pattern.Usage.Total++
	if success {
		pattern.Usage.SuccessCount++
	} else {
		pattern.Usage.FailureCount++
	}
	if pattern.Usage.Total > 0 {
		pattern.Usage.AvgExecutionMS = (pattern.Usage.AvgExecutionMS*float64(pattern.Usage.Total-1) + float64(executionMS)) / float64(pattern.Usage.Total)
	}
	pattern.Usage.LastUsed = time.Now()
	pattern.UpdatedAt = time.Now()

	if err := p.store.UpsertPattern(ctx, pattern); err != nil {
		return fmt.Errorf("intelligence: persist pattern: %w", err)
	}
	return p.store.RecordLearningFeedback(ctx, pattern.ID, outcome, delta)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Prune returns the patterns that should be pruned: confidence below
// PruningThreshold and older than MaxPatternAgeDays.
func (p *PatternProcessor) Prune(ctx context.Context) ([]domain.ContainerPattern, error) {
	patterns, err := p.store.ListPatterns(ctx)
	if err != nil {
		return nil, fmt.Errorf("intelligence: list patterns: %w", err)
	}

	cutoff := time.Now().AddDate(0, 0, -p.cfg.MaxPatternAgeDays)
	var stale []domain.ContainerPattern
	for _, pat := range patterns {
		if pat.Confidence < p.cfg.PruningThreshold && pat.UpdatedAt.Before(cutoff) {
			stale = append(stale, pat)
		}
	}
	return stale, nil
}

// Optimize re-evaluates every pattern's usage stats and returns the ones a
// caller should consider pruning or promoting, for the optimize_patterns
// intelligence tool.
func (p *PatternProcessor) Optimize(ctx context.Context) (prune []domain.ContainerPattern, promote []domain.ContainerPattern, err error) {
	patterns, err := p.store.ListPatterns(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("intelligence: list patterns: %w", err)
	}

	cutoff := time.Now().AddDate(0, 0, -p.cfg.MaxPatternAgeDays)
	for _, pat := range patterns {
		switch {
		case pat.Confidence < p.cfg.PruningThreshold && pat.UpdatedAt.Before(cutoff):
			prune = append(prune, pat)
		case pat.Confidence > 0.8 && pat.Usage.Total >= 5:
			promote = append(promote, pat)
		}
	}
	return prune, promote, nil
}
