package pipeline

import (
	"strings"
	"sync"
)

// Decision categories
const (
	CategoryAutoFixable  = "auto_fixable"
	CategoryAIAssisted   = "ai_assisted"
	CategoryManualReview = "manual_review"
	CategorySkip         = "skip"
)

// Fix strategies attached to decisions
const (
	StrategyAutoFormat   = "auto_format"
	StrategyAutoRemove   = "auto_remove"
	StrategyAIRefactor   = "ai_refactor"
	StrategyAIRename     = "ai_rename_suggestions"
	StrategyAIAnalysis   = "ai_analysis_required"
	StrategyManualReview = "manual_review"
	StrategySkip         = "skip"
)

// Decision sources
const (
	SourceRule     = "rule"
	SourceSeverity = "severity"
	SourceContext  = "context"
	SourceSkip     = "skip"
	SourceFloor    = "floor"
)

// DefaultConfidenceThreshold is the confidence a rule decision needs to be
// taken without consulting the issue context.
const DefaultConfidenceThreshold = 0.8

// below this combined confidence an issue goes to manual review
const confidenceFloor = 0.4

// Rule maps an issue type to a category and strategy
type Rule struct {
	Category string `json:"category"`
	Strategy string `json:"strategy"`
}

// DefaultRules returns the built-in rules keyed by issue type
func DefaultRules() map[string]Rule {
	return map[string]Rule{
		"gofmt":  {CategoryAutoFixable, StrategyAutoFormat},
		"U1000":  {CategoryAutoFixable, StrategyAutoRemove},
		"ST1003": {CategoryAIAssisted, StrategyAIRename},
		"SA4006": {CategoryAIAssisted, StrategyAIRefactor},
		"G104":   {CategoryAIAssisted, StrategyAIAnalysis},
		"G201":   {CategoryManualReview, StrategyManualReview},
		"G204":   {CategoryManualReview, StrategyManualReview},
		"G302":   {CategoryManualReview, StrategyManualReview},
		"G401":   {CategoryManualReview, StrategyManualReview},
		"G405":   {CategoryManualReview, StrategyManualReview},
	}
}

// ValidCategory reports whether c names a decision category
func ValidCategory(c string) bool {
	switch c {
	case CategoryAutoFixable, CategoryAIAssisted, CategoryManualReview, CategorySkip:
		return true
	}
	return false
}

// Decision is the triage outcome for one issue
type Decision struct {
	Issue      Issue   `json:"issue"`
	Category   string  `json:"category"`
	Strategy   string  `json:"strategy"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
}

// Summary counts decisions per category
type Summary struct {
	Total        int `json:"total"`
	AutoFixable  int `json:"auto_fixable"`
	AIAssisted   int `json:"ai_assisted"`
	ManualReview int `json:"manual_review"`
	Skip         int `json:"skip"`
}

// TriageStats accumulates over every Triage call of an engine
type TriageStats struct {
	Runs       int            `json:"runs"`
	Issues     int            `json:"issues"`
	BySource   map[string]int `json:"by_source"`
	ByCategory map[string]int `json:"by_category"`
}

// TriageEngine sorts issues into fix categories. Rules keyed by issue type
// come first; issues without a rule fall back to their severity, and the
// issue context can raise a weak decision. It is safe for concurrent use.
type TriageEngine struct {
	rules     map[string]Rule
	skip      map[string]bool
	threshold float64

	mu    sync.Mutex
	stats TriageStats
}

// TriageOption configures a TriageEngine
type TriageOption func(*TriageEngine)

// WithRules adds rules, replacing built-in rules for the same issue types
func WithRules(rules map[string]Rule) TriageOption {
	return func(e *TriageEngine) {
		for typ, rule := range rules {
			e.rules[typ] = rule
		}
	}
}

// WithSkipTypes makes issues of the given types skipped outright
func WithSkipTypes(types ...string) TriageOption {
	return func(e *TriageEngine) {
		for _, t := range types {
			e.skip[t] = true
		}
	}
}

// WithConfidenceThreshold sets the rule confidence threshold; values
// outside (0, 1] keep the default.
func WithConfidenceThreshold(threshold float64) TriageOption {
	return func(e *TriageEngine) {
		if threshold > 0 && threshold <= 1 {
			e.threshold = threshold
		}
	}
}

// NewTriageEngine creates an engine with the built-in rules
func NewTriageEngine(opts ...TriageOption) *TriageEngine {
	e := &TriageEngine{
		rules:     DefaultRules(),
		skip:      make(map[string]bool),
		threshold: DefaultConfidenceThreshold,
		stats: TriageStats{
			BySource:   make(map[string]int),
			ByCategory: make(map[string]int),
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Triage sorts issues with the built-in rules
func Triage(issues []Issue) Decisions {
	return NewTriageEngine().Triage(issues)
}

// Triage decides every issue and groups them by category
func (e *TriageEngine) Triage(issues []Issue) Decisions {
	d := Decisions{
		AutoFixable:  []Issue{},
		AIAssisted:   []Issue{},
		ManualReview: []Issue{},
		Skip:         []Issue{},
		Details:      make([]Decision, 0, len(issues)),
	}
	for _, issue := range issues {
		dec := e.Decide(issue)
		d.Details = append(d.Details, dec)
		switch dec.Category {
		case CategoryAutoFixable:
			d.AutoFixable = append(d.AutoFixable, issue)
		case CategoryAIAssisted:
			d.AIAssisted = append(d.AIAssisted, issue)
		case CategorySkip:
			d.Skip = append(d.Skip, issue)
		default:
			d.ManualReview = append(d.ManualReview, issue)
		}
	}
	d.Summary = Summary{
		Total:        len(issues),
		AutoFixable:  len(d.AutoFixable),
		AIAssisted:   len(d.AIAssisted),
		ManualReview: len(d.ManualReview),
		Skip:         len(d.Skip),
	}

	e.mu.Lock()
	e.stats.Runs++
	e.stats.Issues += len(issues)
	for _, dec := range d.Details {
		e.stats.BySource[dec.Source]++
		e.stats.ByCategory[dec.Category]++
	}
	e.mu.Unlock()
	return d
}

// Decide returns the decision for a single issue
func (e *TriageEngine) Decide(issue Issue) Decision {
	if e.skip[issue.Type] {
		return Decision{Issue: issue, Category: CategorySkip, Strategy: StrategySkip, Confidence: 1, Source: SourceSkip}
	}

	best := e.ruleDecision(issue)
	if best.Confidence > e.threshold {
		return best
	}
	if ctx, ok := contextDecision(issue); ok && ctx.Confidence > best.Confidence {
		best = ctx
	}
	if best.Confidence < confidenceFloor {
		return Decision{Issue: issue, Category: CategoryManualReview, Strategy: StrategyManualReview, Confidence: 0.3, Source: SourceFloor}
	}
	return best
}

// Stats returns a copy of the accumulated counters
func (e *TriageEngine) Stats() TriageStats {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := TriageStats{
		Runs:       e.stats.Runs,
		Issues:     e.stats.Issues,
		BySource:   make(map[string]int, len(e.stats.BySource)),
		ByCategory: make(map[string]int, len(e.stats.ByCategory)),
	}
	for k, v := range e.stats.BySource {
		out.BySource[k] = v
	}
	for k, v := range e.stats.ByCategory {
		out.ByCategory[k] = v
	}
	return out
}

func (e *TriageEngine) ruleDecision(issue Issue) Decision {
	if rule, ok := e.rules[issue.Type]; ok {
		return Decision{
			Issue:      issue,
			Category:   rule.Category,
			Strategy:   rule.Strategy,
			Confidence: categoryConfidence(rule.Category),
			Source:     SourceRule,
		}
	}

	d := Decision{Issue: issue, Source: SourceSeverity}
	switch issue.Severity {
	case SeverityError:
		d.Category, d.Strategy, d.Confidence = CategoryManualReview, StrategyManualReview, 0.6
	case SeverityWarning:
		d.Category, d.Strategy, d.Confidence = CategoryAIAssisted, StrategyAIAnalysis, 0.5
	default:
		d.Category, d.Strategy, d.Confidence = CategoryAIAssisted, StrategyAIAnalysis, 0.3
	}
	return d
}

func categoryConfidence(category string) float64 {
	switch category {
	case CategoryAutoFixable:
		return 0.9
	case CategoryAIAssisted:
		return 0.7
	case CategorySkip:
		return 1
	}
	return 0.8
}

// contextDecision looks at what the detector said about the issue itself
func contextDecision(issue Issue) (Decision, bool) {
	if issue.Fixable {
		return Decision{Issue: issue, Category: CategoryAutoFixable, Strategy: StrategyAutoFormat, Confidence: 0.85, Source: SourceContext}, true
	}
	msg := strings.ToLower(issue.Message)
	if strings.Contains(msg, "format") || strings.Contains(msg, "indent") {
		return Decision{Issue: issue, Category: CategoryAutoFixable, Strategy: StrategyAutoFormat, Confidence: 0.7, Source: SourceContext}, true
	}
	return Decision{}, false
}
