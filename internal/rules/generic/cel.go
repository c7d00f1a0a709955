package generic

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// celEnv declares the record fields a generic rule's CEL expression may
// reference. Expressions are compiled once per rule at load time and
// evaluated per candidate record.
var celEnv *cel.Env

func init() {
	env, err := cel.NewEnv(
		cel.Variable("code", cel.StringType),
		cel.Variable("debut", cel.StringType),
		cel.Variable("fin", cel.StringType),
		cel.Variable("montantPreliminaire", cel.DoubleType),
		cel.Variable("montantPaye", cel.DoubleType),
		cel.Variable("unites", cel.DoubleType),
		cel.Variable("elementContexte", cel.StringType),
		cel.Variable("dayOfWeek", cel.IntType),
	)
	if err != nil {
		panic(fmt.Sprintf("generic rule CEL environment failed to build: %v", err))
	}
	celEnv = env
}

// CompiledPredicate is a CEL boolean expression compiled once per rule and
// safe to evaluate concurrently across records.
type CompiledPredicate struct {
	program cel.Program
}

// CompileExpression compiles expr against celEnv. A rule whose expression
// fails to compile is treated like a schema-invalid condition: logged and
// skipped at load time.
func CompileExpression(expr string) (*CompiledPredicate, error) {
	ast, issues := celEnv.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("expression failed to compile: %w", issues.Err())
	}
	program, err := celEnv.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("expression failed to plan: %w", err)
	}
	return &CompiledPredicate{program: program}, nil
}

// RecordVars is the CEL activation for one BillingRecord.
type RecordVars struct {
	Code                string
	Debut               string
	Fin                 string
	MontantPreliminaire float64
	MontantPaye         float64
	Unites              float64
	ElementContexte     string
	DayOfWeek           int
}

func (v RecordVars) toActivation() map[string]interface{} {
	return map[string]interface{}{
		"code":                v.Code,
		"debut":               v.Debut,
		"fin":                 v.Fin,
		"montantPreliminaire": v.MontantPreliminaire,
		"montantPaye":         v.MontantPaye,
		"unites":              v.Unites,
		"elementContexte":     v.ElementContexte,
		"dayOfWeek":           v.DayOfWeek,
	}
}

// Eval runs the predicate against vars, returning its boolean result. A
// non-boolean result or evaluation error is treated as false.
func (p *CompiledPredicate) Eval(vars RecordVars) bool {
	out, _, err := p.program.Eval(vars.toActivation())
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
