package classify

import (
	"github.com/google/cel-go/cel"

	"github.com/oxbowlabs/steward/internal/config"
	"github.com/oxbowlabs/steward/internal/tracker"
	"github.com/oxbowlabs/steward/internal/work"
)

// exprRule wraps a compiled CEL program routing items its expression matches.
// Expressions see the raw item as {id, title, body, labels}.
type exprRule struct {
	prog   cel.Program
	target Target
}

func compileExprRule(r config.ExprRule) (exprRule, error) {
	env, err := cel.NewEnv(
		cel.Variable("id", cel.StringType),
		cel.Variable("title", cel.StringType),
		cel.Variable("body", cel.StringType),
		cel.Variable("labels", cel.ListType(cel.StringType)),
	)
	if err != nil {
		return exprRule{}, err
	}
	ast, iss := env.Parse(r.Expr)
	if iss != nil && iss.Err() != nil {
		return exprRule{}, iss.Err()
	}
	checked, iss2 := env.Check(ast)
	if iss2 != nil && iss2.Err() != nil {
		return exprRule{}, iss2.Err()
	}
	prog, err := env.Program(checked)
	if err != nil {
		return exprRule{}, err
	}
	return exprRule{
		prog:   prog,
		target: Target{Role: work.Role(r.Role), Priority: r.Priority},
	}, nil
}

// match evaluates the expression; an evaluation error counts as no match.
func (r exprRule) match(item tracker.RawItem) bool {
	out, _, err := r.prog.Eval(map[string]any{
		"id":     item.ID,
		"title":  item.Title,
		"body":   item.Body,
		"labels": item.Labels,
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
