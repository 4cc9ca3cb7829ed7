package config

import (
	"fmt"
	"regexp"
	"strings"
)

// Threshold is a parsed threshold expression such as "p95 < 500ms".
type Threshold struct {
	Expression string
	Metric     string
	Operator   string
	Value      string
}

var (
	thresholdRe = regexp.MustCompile(`^(\w+)\s*([<>=!]+)\s*(.+)$`)

	thresholdMetrics = map[string]bool{
		"p50": true, "p90": true, "p95": true, "p99": true,
		"min": true, "max": true, "avg": true, "med": true,
		"rate": true, "count": true,
	}

	thresholdOps = map[string]bool{
		"<": true, ">": true, "<=": true, ">=": true, "==": true, "!=": true,
	}
)

// ParseThreshold parses "<metric> <op> <value>".
//
// Valid formats:
//   - "p95 < 500ms"
//   - "avg < 200ms"
//   - "rate < 0.01"
//   - "count > 1000"
func ParseThreshold(expr string) (Threshold, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Threshold{}, fmt.Errorf("threshold expression cannot be empty")
	}

	m := thresholdRe.FindStringSubmatch(expr)
	if m == nil {
		return Threshold{}, fmt.Errorf("invalid threshold format: %s", expr)
	}

	t := Threshold{
		Expression: expr,
		Metric:     m[1],
		Operator:   m[2],
		Value:      strings.TrimSpace(m[3]),
	}

	if !thresholdMetrics[t.Metric] {
		return Threshold{}, fmt.Errorf("threshold must start with a valid metric (p50, p90, p95, p99, min, max, avg, med, rate, count)")
	}
	if !thresholdOps[t.Operator] {
		return Threshold{}, fmt.Errorf("invalid operator %q (use <, >, <=, >=, ==, !=)", t.Operator)
	}
	return t, nil
}
