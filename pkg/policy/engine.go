package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
)

// EngineOptions control OPA engine construction and runtime behaviour.
type EngineOptions struct {
	// Entrypoint is the decision path (e.g. "sentinel/reset/decision").
	Entrypoint string
	// Modules contains the Rego modules loaded into the engine. Empty selects
	// DefaultModules.
	Modules map[string]string
	// Posture decides the outcome when evaluation errors.
	Posture Posture
	Logger  *slog.Logger
}

// Engine evaluates policy decisions using an embedded OPA instance.
type Engine struct {
	moduleOrder   []string
	parsedModules map[string]*ast.Module
	entrypoint    string
	posture       Posture
	logger        *slog.Logger
	queries       map[string]*rego.PreparedEvalQuery
	mu            sync.RWMutex
}

// NewEngine parses the modules and prepares the default entrypoint so syntax
// errors surface at startup.
func NewEngine(ctx context.Context, opts EngineOptions) (*Engine, error) {
	entry := strings.TrimSpace(opts.Entrypoint)
	if entry == "" {
		entry = DefaultEntrypoint
	}

	modules := opts.Modules
	if len(modules) == 0 {
		modules = DefaultModules()
	}

	posture := opts.Posture
	if posture == "" {
		posture = PostureFailClosed
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	moduleOrder := make([]string, 0, len(modules))
	for name := range modules {
		moduleOrder = append(moduleOrder, name)
	}
	sort.Strings(moduleOrder)

	parsedModules := make(map[string]*ast.Module, len(modules))
	for _, name := range moduleOrder {
		module, err := ast.ParseModuleWithOpts(name, modules[name], ast.ParserOptions{RegoVersion: ast.RegoV1})
		if err != nil {
			return nil, fmt.Errorf("parse rego module %q: %w", name, err)
		}
		parsedModules[name] = module
	}

	engine := &Engine{
		moduleOrder:   moduleOrder,
		parsedModules: parsedModules,
		entrypoint:    entry,
		posture:       posture,
		logger:        logger.With(slog.String("component", "policy")),
		queries:       make(map[string]*rego.PreparedEvalQuery),
	}

	if _, err := engine.getPreparedQuery(ctx, entry); err != nil {
		return nil, fmt.Errorf("compile rego modules: %w", err)
	}

	return engine, nil
}

// AuthorizeReset evaluates the reset decision. Evaluation failures follow the
// configured posture and are returned alongside the posture decision.
func (e *Engine) AuthorizeReset(ctx context.Context, input ResetInput) (Decision, error) {
	decision, err := e.evaluate(ctx, e.entrypoint, input.toMap())
	if err != nil {
		e.logger.Error("reset policy evaluation failed",
			slog.String("posture", string(e.posture)),
			slog.Any("error", err))
		return Decision{
			Allow:   e.posture == PostureFailOpen,
			Reason:  "policy evaluation failed: " + string(e.posture),
			Outputs: map[string]any{},
		}, err
	}

	e.logger.Debug("reset policy evaluated",
		slog.String("mode", input.Mode),
		slog.String("operator", input.Operator),
		slog.Bool("allow", decision.Allow),
		slog.String("reason", decision.Reason))
	return decision, nil
}

func (e *Engine) evaluate(ctx context.Context, entry string, payload map[string]any) (Decision, error) {
	prepared, err := e.getPreparedQuery(ctx, entry)
	if err != nil {
		return Decision{}, fmt.Errorf("prepare query: %w", err)
	}

	results, err := prepared.Eval(ctx, rego.EvalInput(payload))
	if err != nil {
		return Decision{}, fmt.Errorf("opa decision: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Decision{}, errors.New("opa decision: undefined result")
	}

	decisionPayload, ok := results[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return Decision{}, fmt.Errorf("opa decision: unexpected result type %T", results[0].Expressions[0].Value)
	}

	allow, ok := decisionPayload["allow"].(bool)
	if !ok {
		return Decision{}, fmt.Errorf("opa decision: allow must be boolean, got %T", decisionPayload["allow"])
	}
	reason, _ := decisionPayload["reason"].(string)

	return Decision{Allow: allow, Reason: reason, Outputs: extractDecisionOutputs(decisionPayload)}, nil
}

func (e *Engine) getPreparedQuery(ctx context.Context, entry string) (*rego.PreparedEvalQuery, error) {
	e.mu.RLock()
	if prepared, ok := e.queries[entry]; ok {
		e.mu.RUnlock()
		return prepared, nil
	}
	e.mu.RUnlock()

	query := "data." + strings.ReplaceAll(entry, "/", ".")

	opts := make([]func(*rego.Rego), 0, len(e.parsedModules)+1)
	opts = append(opts, rego.Query(query))
	for _, name := range e.moduleOrder {
		opts = append(opts, rego.ParsedModule(e.parsedModules[name]))
	}

	prepared, err := rego.New(opts...).PrepareForEval(ctx)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Another goroutine may have already prepared the query; respect first entry.
	if existing, ok := e.queries[entry]; ok {
		return existing, nil
	}
	e.queries[entry] = &prepared
	return &prepared, nil
}

// Close releases underlying OPA resources.
func (e *Engine) Close(_ context.Context) error {
	return nil
}

func extractDecisionOutputs(payload map[string]any) map[string]any {
	outputs := make(map[string]any)
	for key, value := range payload {
		switch strings.ToLower(key) {
		case "allow", "reason":
			continue
		default:
			outputs[key] = value
		}
	}
	return outputs
}
