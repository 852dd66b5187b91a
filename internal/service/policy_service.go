// Package service contains application services.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/google/cel-go/cel"
	"gopkg.in/yaml.v3"

	celeval "github.com/fitbridge/fitbridge/internal/adapter/outbound/cel"
	"github.com/fitbridge/fitbridge/internal/config"
	"github.com/fitbridge/fitbridge/internal/domain/policy"
	"github.com/fitbridge/fitbridge/internal/telemetry"
)

// CompiledRule is a filter rule with its CEL expression compiled to a program.
type CompiledRule struct {
	Name    string
	Program cel.Program
	Action  policy.Action
}

// lruEntry is a doubly-linked list node for the LRU cache.
type lruEntry struct {
	key      uint64
	decision policy.Decision
	prev     *lruEntry
	next     *lruEntry
}

// ResultCache provides bounded LRU caching for rule evaluation results.
// Thread-safe with Mutex (both Get and Put mutate LRU order).
type ResultCache struct {
	mu      sync.Mutex
	entries map[uint64]*lruEntry
	head    *lruEntry // most recently used
	tail    *lruEntry // least recently used
	maxSize int
}

// NewResultCache creates a new LRU cache with the given max size.
func NewResultCache(maxSize int) *ResultCache {
	return &ResultCache{
		entries: make(map[uint64]*lruEntry, maxSize),
		maxSize: maxSize,
	}
}

// Get retrieves a cached decision. Returns (decision, true) on hit, (zero, false) on miss.
// On hit, the entry is promoted to the head (most recently used).
func (c *ResultCache) Get(key uint64) (policy.Decision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		c.moveToHeadLocked(e)
		return e.decision, true
	}
	return policy.Decision{}, false
}

// Put stores a decision in the cache. If at capacity, the least recently used entry is evicted.
func (c *ResultCache) Put(key uint64, decision policy.Decision) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.decision = decision
		c.moveToHeadLocked(e)
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictTailLocked()
	}

	e := &lruEntry{key: key, decision: decision}
	c.entries[key] = e
	c.pushHeadLocked(e)
}

// Size returns current cache size.
func (c *ResultCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// moveToHeadLocked moves an existing entry to the head. Must be called with lock held.
func (c *ResultCache) moveToHeadLocked(e *lruEntry) {
	if c.head == e {
		return
	}
	c.unlinkLocked(e)
	c.pushHeadLocked(e)
}

// pushHeadLocked inserts an entry at the head. Must be called with lock held.
func (c *ResultCache) pushHeadLocked(e *lruEntry) {
	e.prev = nil
	e.next = c.head
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

// unlinkLocked removes an entry from the linked list. Must be called with lock held.
func (c *ResultCache) unlinkLocked(e *lruEntry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
	e.prev = nil
	e.next = nil
}

// evictTailLocked removes the least recently used entry. Must be called with lock held.
func (c *ResultCache) evictTailLocked() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.unlinkLocked(c.tail)
}

// computeCacheKey hashes the parts of the evaluation context that rules can
// condition on. Request time is deliberately excluded; a cached decision
// stands until it is evicted.
func computeCacheKey(toolName, sessionID string, args map[string]any) uint64 {
	h := xxhash.New()

	_, _ = h.WriteString(toolName)
	_, _ = h.Write([]byte{0}) // separator

	_, _ = h.WriteString(sessionID)
	_, _ = h.Write([]byte{0})

	// Args hash (JSON for determinism, map keys are sorted)
	if len(args) > 0 {
		argsJSON, _ := json.Marshal(args)
		_, _ = h.Write(argsJSON)
	}

	return h.Sum64()
}

// PolicyService implements policy.Engine with CEL-based rule evaluation.
// Rules are compiled once at construction and evaluated in declaration order;
// the first rule whose expression is true decides the call. When no rule
// matches, the call is allowed.
type PolicyService struct {
	rules     []CompiledRule
	evaluator *celeval.Evaluator
	cache     *ResultCache
	metrics   *telemetry.Metrics
	logger    *slog.Logger
}

// PolicyServiceOption configures PolicyService.
type PolicyServiceOption func(*PolicyService)

// WithCacheSize sets the maximum number of cached decisions.
func WithCacheSize(size int) PolicyServiceOption {
	return func(s *PolicyService) {
		s.cache = NewResultCache(size)
	}
}

// WithPolicyMetrics sets the telemetry instruments used for denial counts.
func WithPolicyMetrics(m *telemetry.Metrics) PolicyServiceOption {
	return func(s *PolicyService) {
		s.metrics = m
	}
}

// NewPolicyService compiles the given rules and returns a ready evaluator.
// A rule that fails to compile makes construction fail, so bad expressions
// surface at startup rather than on the first matching call.
func NewPolicyService(rules []policy.Rule, logger *slog.Logger, opts ...PolicyServiceOption) (*PolicyService, error) {
	evaluator, err := celeval.NewEvaluator()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL evaluator: %w", err)
	}

	s := &PolicyService{
		evaluator: evaluator,
		cache:     NewResultCache(1000),
		logger:    logger,
	}

	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = telemetry.DefaultMetrics()
	}

	compiled, err := compileRules(evaluator, rules)
	if err != nil {
		return nil, err
	}
	s.rules = compiled

	logger.Info("policy rules compiled",
		"rules", len(compiled),
		"cache_max_size", s.cache.maxSize,
	)

	return s, nil
}

// compileRules validates and compiles every rule expression.
func compileRules(evaluator *celeval.Evaluator, rules []policy.Rule) ([]CompiledRule, error) {
	compiled := make([]CompiledRule, 0, len(rules))

	for _, rule := range rules {
		if err := evaluator.ValidateExpression(rule.Expression); err != nil {
			return nil, fmt.Errorf("rule %q: %w", rule.Name, err)
		}
		prg, err := evaluator.Compile(rule.Expression)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", rule.Name, err)
		}
		compiled = append(compiled, CompiledRule{
			Name:    rule.Name,
			Program: prg,
			Action:  rule.Action,
		})
	}

	return compiled, nil
}

// Evaluate runs the rules against a tool call in declaration order and
// returns the first matching rule's decision. Decisions are cached by tool
// name, session, and arguments.
func (s *PolicyService) Evaluate(ctx context.Context, evalCtx policy.EvaluationContext) (policy.Decision, error) {
	if len(s.rules) == 0 {
		return policy.Decision{Allowed: true, Reason: "no rules configured"}, nil
	}

	cacheKey := computeCacheKey(evalCtx.ToolName, evalCtx.SessionID, evalCtx.ToolArguments)

	if decision, ok := s.cache.Get(cacheKey); ok {
		// Denials count on every call, cached or not.
		if !decision.Allowed {
			s.metrics.RecordPolicyDenial(ctx, decision.RuleName)
		}
		return decision, nil
	}

	for _, rule := range s.rules {
		matched, err := s.evaluator.Evaluate(rule.Program, evalCtx)
		if err != nil {
			return policy.Decision{}, fmt.Errorf("rule %q evaluation failed: %w", rule.Name, err)
		}
		if !matched {
			continue
		}

		decision := policy.Decision{
			Allowed:  rule.Action == policy.ActionAllow,
			RuleName: rule.Name,
			Reason:   fmt.Sprintf("matched rule %q", rule.Name),
		}
		if !decision.Allowed {
			s.metrics.RecordPolicyDenial(ctx, rule.Name)
			s.logger.Info("tool call denied",
				"tool", evalCtx.ToolName,
				"session_id", evalCtx.SessionID,
				"rule", rule.Name,
			)
		}

		s.cache.Put(cacheKey, decision)
		return decision, nil
	}

	decision := policy.Decision{Allowed: true, Reason: "no matching rule"}
	s.cache.Put(cacheKey, decision)
	return decision, nil
}

// rulesFile is the YAML document shape for an external rules file.
type rulesFile struct {
	Rules []config.RuleConfig `yaml:"rules"`
}

// RulesFromConfig collects filter rules from the inline config list and the
// optional rules file, in that order. Every rule is checked for a name, an
// expression, and a valid action; file rules do not pass through the config
// validator, so the checks run here for both sources.
func RulesFromConfig(cfg config.PolicyConfig) ([]policy.Rule, error) {
	rules := make([]policy.Rule, 0, len(cfg.Rules))
	for _, rc := range cfg.Rules {
		rules = append(rules, policy.Rule{
			Name:       rc.Name,
			Expression: rc.Expression,
			Action:     policy.Action(rc.Action),
		})
	}

	if cfg.RulesFile != "" {
		fileRules, err := loadRulesFile(cfg.RulesFile)
		if err != nil {
			return nil, err
		}
		rules = append(rules, fileRules...)
	}

	seen := make(map[string]bool, len(rules))
	for i, r := range rules {
		if r.Name == "" {
			return nil, fmt.Errorf("policy rule %d: name is required", i)
		}
		if r.Expression == "" {
			return nil, fmt.Errorf("policy rule %q: expression is required", r.Name)
		}
		if r.Action != policy.ActionAllow && r.Action != policy.ActionDeny {
			return nil, fmt.Errorf("policy rule %q: action must be allow or deny, got %q", r.Name, r.Action)
		}
		if seen[r.Name] {
			return nil, fmt.Errorf("policy rule %q: duplicate name", r.Name)
		}
		seen[r.Name] = true
	}

	return rules, nil
}

// loadRulesFile reads and parses a YAML rules file.
func loadRulesFile(path string) ([]policy.Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}

	var doc rulesFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse rules file %s: %w", path, err)
	}

	rules := make([]policy.Rule, 0, len(doc.Rules))
	for _, rc := range doc.Rules {
		rules = append(rules, policy.Rule{
			Name:       rc.Name,
			Expression: rc.Expression,
			Action:     policy.Action(rc.Action),
		})
	}
	return rules, nil
}

// Compile-time interface verification.
var _ policy.Engine = (*PolicyService)(nil)
