package policyopa

import "github.com/open-policy-agent/opa/ast"

// allowedBuiltins keeps compliance policies pure: no clock, network or
// randomness, so the same batch always audits the same way.
var allowedBuiltins = map[string]struct{}{
	"abs":               {},
	"assign":            {},
	"ceil":              {},
	"concat":            {},
	"contains":          {},
	"count":             {},
	"endswith":          {},
	"eq":                {},
	"equal":             {},
	"floor":             {},
	"format_int":        {},
	"gt":                {},
	"gte":               {},
	"internal.member_2": {},
	"internal.member_3": {},
	"lower":             {},
	"lt":                {},
	"lte":               {},
	"max":               {},
	"min":               {},
	"neq":               {},
	"object.get":        {},
	"object.keys":       {},
	"regex.match":       {},
	"replace":           {},
	"sort":              {},
	"split":             {},
	"sprintf":           {},
	"startswith":        {},
	"substring":         {},
	"sum":               {},
	"trim":              {},
	"trim_space":        {},
	"upper":             {},
}

func filterBuiltins(builtins []*ast.Builtin) []*ast.Builtin {
	allowed := make([]*ast.Builtin, 0, len(allowedBuiltins))
	for _, builtin := range builtins {
		if _, ok := allowedBuiltins[builtin.Name]; ok {
			allowed = append(allowed, builtin)
		}
	}
	return allowed
}
