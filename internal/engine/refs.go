package engine

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/cubeline/cubeline/pkg/models"
)

// Step reference grammar: a parameter string of exactly "$step[i].field"
// is replaced with a value from step i's output before dispatch. The fields
// "data", "columns", "summary" and "sql" address the output directly; any
// other field reads the named column of the output's first data row.
// Resolution is the engine's job; agents only ever see resolved values.
var stepRefPattern = regexp.MustCompile(`^\$step\[(\d+)\]\.([A-Za-z0-9_]+)$`)

// parseRef returns the referenced step index and field, or ok=false when the
// value is not a reference token.
func parseRef(v any) (int, string, bool) {
	s, isStr := v.(string)
	if !isStr {
		return 0, "", false
	}
	m := stepRefPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, "", false
	}
	idx, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, "", false
	}
	return idx, m[2], true
}

// checkRefs walks a step's parameters and rejects any reference to the step
// itself or a later step. Called during plan validation, before anything
// executes.
func checkRefs(stepIdx int, v any) error {
	switch val := v.(type) {
	case string:
		if ref, _, ok := parseRef(val); ok && ref >= stepIdx {
			return fmt.Errorf("step %d references step %d, which has not executed yet", stepIdx, ref)
		}
	case models.Params:
		for _, item := range val {
			if err := checkRefs(stepIdx, item); err != nil {
				return err
			}
		}
	case map[string]any:
		for _, item := range val {
			if err := checkRefs(stepIdx, item); err != nil {
				return err
			}
		}
	case []any:
		for _, item := range val {
			if err := checkRefs(stepIdx, item); err != nil {
				return err
			}
		}
	}
	return nil
}

// resolveParams returns a copy of params with every reference token replaced
// by the value it addresses in the completed outputs. Non-reference values
// pass through untouched.
func resolveParams(params models.Params, outputs []*models.AgentOutput) (models.Params, error) {
	resolved := make(models.Params, len(params))
	for k, v := range params {
		rv, err := resolveValue(v, outputs)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", k, err)
		}
		resolved[k] = rv
	}
	return resolved, nil
}

func resolveValue(v any, outputs []*models.AgentOutput) (any, error) {
	switch val := v.(type) {
	case string:
		idx, field, ok := parseRef(val)
		if !ok {
			return v, nil
		}
		return lookupField(idx, field, outputs)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			rv, err := resolveValue(item, outputs)
			if err != nil {
				return nil, err
			}
			out[k] = rv
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			rv, err := resolveValue(item, outputs)
			if err != nil {
				return nil, err
			}
			out[i] = rv
		}
		return out, nil
	default:
		return v, nil
	}
}

func lookupField(idx int, field string, outputs []*models.AgentOutput) (any, error) {
	if idx < 0 || idx >= len(outputs) || outputs[idx] == nil {
		return nil, fmt.Errorf("$step[%d] has no completed output", idx)
	}
	out := outputs[idx]
	switch field {
	case "data":
		return out.Data, nil
	case "columns":
		return out.Columns, nil
	case "summary":
		return out.Summary, nil
	case "sql":
		return out.SQL, nil
	case "operation":
		return out.Operation, nil
	default:
		if len(out.Data) == 0 {
			return nil, fmt.Errorf("$step[%d].%s: step produced no rows", idx, field)
		}
		v, ok := out.Data[0][field]
		if !ok {
			return nil, fmt.Errorf("$step[%d].%s: no such column in step output", idx, field)
		}
		return v, nil
	}
}
