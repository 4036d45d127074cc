// Package rules provides the CEL-Go based alert-rule engine. Operators
// define expressions over the customer snapshot; fired rules emit extra
// synthetic timeline events and bus alerts without touching the weighted
// score.
package rules

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/uuid"
	"github.com/retentionlabs/kestrel/internal/domain"
)

// Engine is the CEL-based alert-rule engine.
type Engine struct {
	mu            sync.RWMutex
	env           *cel.Env
	compiledRules map[string]*CompiledRule
	maxWorkers    int
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Rule    *domain.AlertRule
	Program cel.Program
}

// NewEngine creates a new alert-rule engine.
func NewEngine(maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	env, err := cel.NewEnv(
		cel.Variable("customer_id", cel.IntType),
		cel.Variable("plan", cel.StringType),
		cel.Variable("monthly_amount", cel.DoubleType),
		cel.Variable("days_overdue", cel.IntType),
		cel.Variable("calls_30d", cel.IntType),
		cel.Variable("calls_90d", cel.IntType),
		cel.Variable("nps_score", cel.IntType),
		cel.Variable("nps_class", cel.StringType),
		cel.Variable("ltv", cel.DoubleType),
		cel.Variable("churn_status", cel.StringType),
		cel.Variable("raw_financial", cel.IntType),
		cel.Variable("raw_support", cel.IntType),
		cel.Variable("raw_nps", cel.IntType),
		cel.Variable("raw_quality", cel.IntType),
		cel.Variable("raw_behavioral", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:           env,
		compiledRules: make(map[string]*CompiledRule),
		maxWorkers:    maxWorkers,
	}, nil
}

// ValidateRule compiles a rule without loading it.
func (e *Engine) ValidateRule(rule *domain.AlertRule) error {
	if rule == nil {
		return fmt.Errorf("alert rule is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(rule)
	return err
}

// LoadRule compiles and loads a rule into the engine.
func (e *Engine) LoadRule(rule *domain.AlertRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileRule(rule)
	if err != nil {
		return err
	}

	e.compiledRules[rule.ID] = compiled
	return nil
}

// LoadRules compiles and loads all enabled rules.
func (e *Engine) LoadRules(rulesList []*domain.AlertRule) error {
	for _, rule := range rulesList {
		if rule.Enabled {
			if err := e.LoadRule(rule); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReloadRules swaps the loaded set wholesale. Enables hot-reloading from
// the repository without a restart.
func (e *Engine) ReloadRules(rulesList []*domain.AlertRule) error {
	newRules := make(map[string]*CompiledRule)

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, rule := range rulesList {
		if !rule.Enabled {
			continue
		}
		compiled, err := e.compileRule(rule)
		if err != nil {
			return err
		}
		newRules[rule.ID] = compiled
	}

	e.compiledRules = newRules
	return nil
}

// EvaluateAll runs every loaded rule against a snapshot and returns one
// synthetic risk event per fired rule. Rule evaluation errors degrade to
// "not fired"; the timeline never fails for a well-formed snapshot.
func (e *Engine) EvaluateAll(ctx context.Context, snap *domain.CustomerSnapshot) []*domain.RiskEvent {
	e.mu.RLock()
	loaded := make([]*CompiledRule, 0, len(e.compiledRules))
	for _, rule := range e.compiledRules {
		loaded = append(loaded, rule)
	}
	e.mu.RUnlock()

	if len(loaded) == 0 || snap == nil {
		return nil
	}

	activation := map[string]any{
		"customer_id":    snap.ID,
		"plan":           snap.Plan,
		"monthly_amount": snap.MonthlyAmount,
		"days_overdue":   snap.DaysOverdue,
		"calls_30d":      snap.Calls30d,
		"calls_90d":      snap.Calls90d,
		"nps_score":      snap.NPSScore,
		"nps_class":      snap.NPSClass,
		"ltv":            snap.LTV,
		"churn_status":   snap.ChurnStatus,
		"raw_financial":  snap.RawFinancial,
		"raw_support":    snap.RawSupport,
		"raw_nps":        snap.RawNPS,
		"raw_quality":    snap.RawQuality,
		"raw_behavioral": snap.RawBehavioral,
	}

	now := time.Now().UTC()
	fired := make([]*domain.RiskEvent, len(loaded))
	var wg sync.WaitGroup
	sem := make(chan struct{}, e.maxWorkers)

	for i, rule := range loaded {
		wg.Add(1)
		go func(idx int, r *CompiledRule) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			out, _, err := r.Program.Eval(activation)
			if err != nil || !toBool(out) {
				return
			}

			fired[idx] = &domain.RiskEvent{
				ID:          uuid.New().String(),
				CustomerID:  snap.ID,
				Type:        r.Rule.EventType,
				ImpactScore: r.Rule.Impact,
				Description: r.Rule.Name,
				OccurredAt:  now,
				Synthetic:   true,
			}
		}(i, rule)
	}

	wg.Wait()

	events := make([]*domain.RiskEvent, 0, len(fired))
	for _, ev := range fired {
		if ev != nil {
			events = append(events, ev)
		}
	}
	return events
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledRules)
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledRules = make(map[string]*CompiledRule)
	return nil
}

func (e *Engine) compileRule(rule *domain.AlertRule) (*CompiledRule, error) {
	if rule.EventType == "" {
		return nil, fmt.Errorf("rule %s: eventType is required", rule.ID)
	}

	ast, issues := e.env.Compile(rule.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", rule.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", rule.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", rule.ID, err)
	}

	return &CompiledRule{Rule: rule, Program: program}, nil
}

func toBool(val ref.Val) bool {
	if b, ok := val.(types.Bool); ok {
		return bool(b)
	}
	return false
}
