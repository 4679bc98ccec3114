// Package policyopa evaluates an optional Rego compliance policy as one more
// audit predicate.
package policyopa

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"custodia/internal/domain"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
)

const (
	Query           = "data.custodia.compliance.result"
	DefaultBundleID = "compliance_v1"
)

//go:embed policy/*.rego
var defaultPolicy embed.FS

type Engine struct {
	query      rego.PreparedEvalQuery
	bundleID   string
	bundleHash string
}

// NewDefaultEngine loads the policy shipped with the binary.
func NewDefaultEngine(ctx context.Context) (*Engine, error) {
	sub, err := fs.Sub(defaultPolicy, "policy")
	if err != nil {
		return nil, err
	}
	hash, err := BundleHashFromFS(sub, ".")
	if err != nil {
		return nil, err
	}
	entries, err := fs.ReadDir(sub, ".")
	if err != nil {
		return nil, err
	}
	opts := make([]func(*rego.Rego), 0, len(entries))
	for _, e := range entries {
		src, err := fs.ReadFile(sub, e.Name())
		if err != nil {
			return nil, err
		}
		opts = append(opts, rego.Module(e.Name(), string(src)))
	}
	return prepare(ctx, DefaultBundleID, hash, opts...)
}

// NewEngineFromPath loads a policy file or directory from disk.
func NewEngineFromPath(ctx context.Context, path, bundleID string) (*Engine, error) {
	hash, err := BundleHashFromPath(path)
	if err != nil {
		return nil, fmt.Errorf("hash policy bundle: %w", err)
	}
	if bundleID == "" {
		bundleID = DefaultBundleID
	}
	return prepare(ctx, bundleID, hash, rego.Load([]string{path}, nil))
}

func prepare(ctx context.Context, bundleID, hash string, sources ...func(*rego.Rego)) (*Engine, error) {
	capabilities := ast.CapabilitiesForThisVersion()
	capabilities.Builtins = filterBuiltins(capabilities.Builtins)
	compiler := ast.NewCompiler().WithCapabilities(capabilities)

	opts := []func(*rego.Rego){
		rego.Query(Query),
		rego.Compiler(compiler),
		rego.StrictBuiltinErrors(true),
	}
	opts = append(opts, sources...)
	prepared, err := rego.New(opts...).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare policy %s: %w", bundleID, err)
	}
	if err := assertNoForbiddenBuiltins(compiler); err != nil {
		return nil, err
	}
	return &Engine{query: prepared, bundleID: bundleID, bundleHash: hash}, nil
}

func (e *Engine) BundleID() string   { return e.bundleID }
func (e *Engine) BundleHash() string { return e.bundleHash }

func (e *Engine) Evaluate(ctx context.Context, input domain.PolicyInput) (domain.PolicyEvaluation, error) {
	if e == nil {
		return domain.PolicyEvaluation{}, errors.New("policy engine is nil")
	}
	// The payload is an interface; go through JSON so rego sees its tagged
	// field names.
	raw, err := json.Marshal(input)
	if err != nil {
		return domain.PolicyEvaluation{}, err
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return domain.PolicyEvaluation{}, err
	}
	results, err := e.query.Eval(ctx, rego.EvalInput(doc))
	if err != nil {
		return domain.PolicyEvaluation{}, err
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return domain.PolicyEvaluation{}, errors.New("empty policy result")
	}
	result, err := decodeResult(results[0].Expressions[0].Value)
	if err != nil {
		return domain.PolicyEvaluation{}, err
	}
	sort.Slice(result.Deny, func(i, j int) bool {
		if result.Deny[i].Code == result.Deny[j].Code {
			return result.Deny[i].Message < result.Deny[j].Message
		}
		return result.Deny[i].Code < result.Deny[j].Code
	})
	return domain.PolicyEvaluation{
		BundleID:   e.bundleID,
		BundleHash: e.bundleHash,
		Result:     result,
	}, nil
}

func decodeResult(value any) (domain.PolicyResult, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return domain.PolicyResult{}, err
	}
	var result domain.PolicyResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return domain.PolicyResult{}, fmt.Errorf("decode policy result: %w", err)
	}
	return result, nil
}

func assertNoForbiddenBuiltins(compiler *ast.Compiler) error {
	forbidden := make(map[string]struct{})
	for _, module := range compiler.Modules {
		ast.WalkTerms(module, func(term *ast.Term) bool {
			call, ok := term.Value.(ast.Call)
			if !ok || len(call) == 0 || call[0] == nil {
				return false
			}
			name := call[0].Value.String()
			if _, ok := ast.BuiltinMap[name]; !ok {
				return false
			}
			if _, ok := allowedBuiltins[name]; !ok {
				forbidden[name] = struct{}{}
			}
			return false
		})
	}
	if len(forbidden) == 0 {
		return nil
	}
	names := make([]string, 0, len(forbidden))
	for name := range forbidden {
		names = append(names, name)
	}
	sort.Strings(names)
	return fmt.Errorf("forbidden builtins: %s", strings.Join(names, ", "))
}
