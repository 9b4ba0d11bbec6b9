package ssevents

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// ExprFilter selects notifications with a boolean expr-lang expression over
// two variables: method (string) and params (decoded JSON).
//
//	method == "vulnerability-created" && params.priority in ["Critical", "High"]
type ExprFilter struct {
	src     string
	program *vm.Program
}

// NewExprFilter compiles src.
func NewExprFilter(src string) (*ExprFilter, error) {
	program, err := expr.Compile(src,
		expr.Env(map[string]any{"method": "", "params": map[string]any{}}),
		expr.AsBool(),
	)
	if err != nil {
		return nil, fmt.Errorf("compile filter %q: %w", src, err)
	}
	return &ExprFilter{src: src, program: program}, nil
}

// Match evaluates the filter for one notification.
func (f *ExprFilter) Match(method string, params json.RawMessage) (bool, error) {
	var p any = map[string]any{}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return false, fmt.Errorf("decode params: %w", err)
		}
	}
	out, err := expr.Run(f.program, map[string]any{"method": method, "params": p})
	if err != nil {
		return false, fmt.Errorf("evaluate filter %q: %w", f.src, err)
	}
	ok, _ := out.(bool)
	return ok, nil
}

// Wrap returns a handler that calls next only for matching notifications.
func (f *ExprFilter) Wrap(next NotificationHandler) NotificationHandler {
	return func(ctx context.Context, method string, params json.RawMessage) error {
		ok, err := f.Match(method, params)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		return next(ctx, method, params)
	}
}
