// Package rules provides the match rule evaluation engine. Each rule is
// a tagged variant of the MatchType enumeration with its own evaluator
// over normalized identities; rules run independently and multiple rules
// may fire for the same pair.
package rules

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/learnersafe/heron/internal/domain"
)

// Engine evaluates the loaded match rule set over candidate pairs.
type Engine struct {
	mu          sync.RWMutex
	env         *cel.Env
	loadedRules map[string]*loadedRule
	cfg         domain.DetectionConfig
	verifier    domain.Verifier
}

// loadedRule pairs a rule with its pre-compiled CEL filter, if any.
type loadedRule struct {
	rule   *domain.MatchRule
	filter cel.Program
}

// NewEngine creates a rule engine. The verifier may be nil; external
// verification rules then never fire.
func NewEngine(cfg domain.DetectionConfig, verifier domain.Verifier) (*Engine, error) {
	// CEL environment exposing both sides of a candidate pair to
	// applicability filters.
	env, err := cel.NewEnv(
		cel.Variable("a", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("b", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:         env,
		loadedRules: make(map[string]*loadedRule),
		cfg:         cfg,
		verifier:    verifier,
	}, nil
}

// ValidateRule compiles and validates a rule without loading it.
func (e *Engine) ValidateRule(rule *domain.MatchRule) error {
	if rule == nil {
		return fmt.Errorf("match rule is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(rule)
	return err
}

// LoadRule compiles and loads a single rule into the engine.
func (e *Engine) LoadRule(rule *domain.MatchRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileRule(rule)
	if err != nil {
		return err
	}

	e.loadedRules[rule.ID] = compiled
	return nil
}

// LoadRules compiles and loads all enabled rules.
func (e *Engine) LoadRules(rules []*domain.MatchRule) error {
	for _, rule := range rules {
		if rule.Enabled {
			if err := e.LoadRule(rule); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReloadRules clears existing rules and loads new ones. This enables
// hot-reloading of rules from the database.
func (e *Engine) ReloadRules(rules []*domain.MatchRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	loaded := make(map[string]*loadedRule)
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		compiled, err := e.compileRule(rule)
		if err != nil {
			return err
		}
		loaded[rule.ID] = compiled
	}

	e.loadedRules = loaded
	return nil
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.loadedRules)
}

// GetLoadedRules returns the currently loaded rule configurations.
func (e *Engine) GetLoadedRules() []*domain.MatchRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]*domain.MatchRule, 0, len(e.loadedRules))
	for _, lr := range e.loadedRules {
		rules = append(rules, lr.rule)
	}
	return rules
}

// Evaluate runs every loaded rule over the pair and returns the hits.
// A failing rule is skipped and reported in the error slice; other
// rules still evaluate. The hit order is deterministic: rule priority
// ascending, then rule id.
func (e *Engine) Evaluate(ctx context.Context, pair *domain.CandidatePair) ([]domain.RuleHit, []error) {
	e.mu.RLock()
	rules := make([]*loadedRule, 0, len(e.loadedRules))
	for _, lr := range e.loadedRules {
		rules = append(rules, lr)
	}
	e.mu.RUnlock()

	sort.Slice(rules, func(i, j int) bool {
		if rules[i].rule.Priority != rules[j].rule.Priority {
			return rules[i].rule.Priority < rules[j].rule.Priority
		}
		return rules[i].rule.ID < rules[j].rule.ID
	})

	var hits []domain.RuleHit
	var errs []error

	for _, lr := range rules {
		hit, fired, err := e.evaluateRule(ctx, lr, pair)
		if err != nil {
			slog.Warn("rule evaluation failed",
				"rule_id", lr.rule.ID,
				"rule_type", lr.rule.Type,
				"pair", pair.Key(),
				"error", err,
			)
			errs = append(errs, fmt.Errorf("rule %s: %w", lr.rule.ID, err))
			continue
		}
		if !fired {
			continue
		}
		// Hits below the rule's own confidence floor are discarded.
		if hit.Score < lr.rule.MinConfidence {
			continue
		}
		hits = append(hits, hit)
	}

	return hits, errs
}

// evaluateRule applies the rule's filter, then its match predicate.
func (e *Engine) evaluateRule(ctx context.Context, lr *loadedRule, pair *domain.CandidatePair) (domain.RuleHit, bool, error) {
	if lr.filter != nil {
		applies, err := e.runFilter(lr.filter, pair)
		if err != nil {
			return domain.RuleHit{}, false, fmt.Errorf("filter: %w", err)
		}
		if !applies {
			return domain.RuleHit{}, false, nil
		}
	}

	score, fired, reason, err := e.matchScore(ctx, lr.rule, pair)
	if err != nil || !fired {
		return domain.RuleHit{}, false, err
	}

	return domain.RuleHit{
		RuleID:   lr.rule.ID,
		Type:     lr.rule.Type,
		Score:    score,
		Priority: lr.rule.Priority,
		Reason:   reason,
	}, true, nil
}

// runFilter evaluates the compiled CEL applicability filter.
func (e *Engine) runFilter(prog cel.Program, pair *domain.CandidatePair) (bool, error) {
	out, _, err := prog.Eval(map[string]any{
		"a": filterActivation(pair.A),
		"b": filterActivation(pair.B),
	})
	if err != nil {
		return false, err
	}
	b, ok := out.(types.Bool)
	if !ok {
		return false, fmt.Errorf("filter returned non-bool %v", out.Type())
	}
	return bool(b), nil
}

// filterActivation exposes a normalized identity to CEL filters.
func filterActivation(n *domain.NormalizedIdentity) map[string]any {
	return map[string]any{
		"learner_id":  n.LearnerID,
		"national_id": n.NationalID,
		"passport":    n.PassportNumber,
		"first_name":  n.FirstName,
		"last_name":   n.LastName,
		"phone":       n.Phone,
		"email":       n.Email,
		"affiliation": n.AffiliationCode,
		"has_dob":     n.HasDateOfBirth(),
	}
}

func (e *Engine) compileRule(rule *domain.MatchRule) (*loadedRule, error) {
	if !rule.Type.Valid() {
		return nil, fmt.Errorf("rule %s: unknown match type %q", rule.ID, rule.Type)
	}
	if rule.Weight < 0 || rule.Weight > 1 {
		return nil, fmt.Errorf("rule %s: weight %v outside [0,1]", rule.ID, rule.Weight)
	}

	lr := &loadedRule{rule: rule}

	if rule.Filter != "" {
		ast, issues := e.env.Compile(rule.Filter)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("failed to compile filter for rule %s: %w", rule.ID, issues.Err())
		}
		if ast.OutputType() != cel.BoolType {
			return nil, fmt.Errorf("rule %s: filter must return bool, got %s", rule.ID, ast.OutputType())
		}
		prog, err := e.env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("failed to create filter program for rule %s: %w", rule.ID, err)
		}
		lr.filter = prog
	}

	return lr, nil
}
