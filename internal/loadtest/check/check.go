// Package check evaluates per-response assertions for virtual users.
//
// A failed check is a recorded outcome, never an error: the VU that ran it
// carries on with its next iteration.
package check

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
)

// Type selects what part of the response a check inspects.
type Type string

const (
	// TypeStatus compares the HTTP status code.
	TypeStatus Type = "status"

	// TypeBody compares the raw response body.
	TypeBody Type = "body"

	// TypeJSON compares a value selected from a JSON body by a gjson path.
	TypeJSON Type = "json"

	// TypeSchema validates a JSON body against a JSON Schema document.
	TypeSchema Type = "schema"
)

// Condition is the comparison applied to the inspected value.
type Condition string

const (
	Eq       Condition = "eq"
	Ne       Condition = "ne"
	Gt       Condition = "gt"
	Lt       Condition = "lt"
	Gte      Condition = "gte"
	Lte      Condition = "lte"
	Contains Condition = "contains"
	Exists   Condition = "exists"
)

// Config describes a check as it appears in a test profile.
//
// Example YAML:
//
//	checks:
//	  - name: "status was 200"
//	    type: status
//	    condition: eq
//	    value: "200"
//	  - name: "message is Hello!"
//	    type: json
//	    path: message
//	    value: "Hello!"
type Config struct {
	// Name identifies the check in reports; generated when empty
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Type is one of status, body, json, schema
	Type Type `json:"type" yaml:"type"`

	// Condition defaults to eq (ignored for schema checks)
	Condition Condition `json:"condition,omitempty" yaml:"condition,omitempty"`

	// Value is the expected value
	Value string `json:"value,omitempty" yaml:"value,omitempty"`

	// Path is the gjson path for json checks
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// Schema is an inline JSON Schema document for schema checks
	Schema string `json:"schema,omitempty" yaml:"schema,omitempty"`
}

// StatusIs returns the config of the standard status check, named
// "status was <code>".
func StatusIs(code int) Config {
	return Config{
		Name:      fmt.Sprintf("status was %d", code),
		Type:      TypeStatus,
		Condition: Eq,
		Value:     strconv.Itoa(code),
	}
}

// Response is what a check sees of a completed request.
// StatusCode is 0 and Err is set when no response arrived.
type Response struct {
	StatusCode int
	Body       []byte
	Duration   time.Duration
	Err        error
}

// Check is a compiled, immutable check. It is safe for concurrent use.
type Check struct {
	name      string
	typ       Type
	condition Condition
	value     string
	number    float64
	path      string
	schema    *jsonschema.Schema
}

// Compile validates cfg and prepares it for evaluation.
func Compile(cfg Config) (*Check, error) {
	c := &Check{
		name:      cfg.Name,
		typ:       cfg.Type,
		condition: cfg.Condition,
		value:     cfg.Value,
		path:      cfg.Path,
	}
	if c.condition == "" {
		c.condition = Eq
	}

	switch c.typ {
	case TypeStatus:
		if !isNumeric(c.condition) {
			return nil, fmt.Errorf("check %q: condition %q is not valid for status checks", cfg.Name, c.condition)
		}
		n, err := strconv.ParseFloat(c.value, 64)
		if err != nil {
			return nil, fmt.Errorf("check %q: status value %q is not a number", cfg.Name, c.value)
		}
		c.number = n

	case TypeBody:
		if c.condition != Eq && c.condition != Ne && c.condition != Contains {
			return nil, fmt.Errorf("check %q: condition %q is not valid for body checks", cfg.Name, c.condition)
		}

	case TypeJSON:
		if c.path == "" {
			return nil, fmt.Errorf("check %q: json checks require a path", cfg.Name)
		}
		if isOrdering(c.condition) {
			n, err := strconv.ParseFloat(c.value, 64)
			if err != nil {
				return nil, fmt.Errorf("check %q: value %q is not a number", cfg.Name, c.value)
			}
			c.number = n
		} else if !isNumeric(c.condition) && c.condition != Contains && c.condition != Exists {
			return nil, fmt.Errorf("check %q: unknown condition %q", cfg.Name, c.condition)
		}

	case TypeSchema:
		if cfg.Schema == "" {
			return nil, fmt.Errorf("check %q: schema checks require a schema", cfg.Name)
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("schema.json", strings.NewReader(cfg.Schema)); err != nil {
			return nil, fmt.Errorf("check %q: invalid schema: %w", cfg.Name, err)
		}
		schema, err := compiler.Compile("schema.json")
		if err != nil {
			return nil, fmt.Errorf("check %q: invalid schema: %w", cfg.Name, err)
		}
		c.schema = schema

	default:
		return nil, fmt.Errorf("check %q: unknown type %q", cfg.Name, cfg.Type)
	}

	if c.name == "" {
		c.name = defaultName(c)
	}
	return c, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(cfg Config) *Check {
	c, err := Compile(cfg)
	if err != nil {
		panic(err)
	}
	return c
}

// Name returns the name results are recorded under.
func (c *Check) Name() string {
	return c.name
}

// Evaluate reports whether resp satisfies the check.
func (c *Check) Evaluate(resp *Response) bool {
	if resp == nil {
		return false
	}

	switch c.typ {
	case TypeStatus:
		return compareNumbers(float64(resp.StatusCode), c.condition, c.number)

	case TypeBody:
		if resp.Err != nil {
			return false
		}
		body := string(resp.Body)
		switch c.condition {
		case Ne:
			return body != c.value
		case Contains:
			return strings.Contains(body, c.value)
		default:
			return body == c.value
		}

	case TypeJSON:
		if resp.Err != nil || !gjson.ValidBytes(resp.Body) {
			return false
		}
		result := gjson.GetBytes(resp.Body, c.path)
		switch {
		case c.condition == Exists:
			return result.Exists()
		case !result.Exists():
			return c.condition == Ne
		case isOrdering(c.condition):
			return compareNumbers(result.Float(), c.condition, c.number)
		case c.condition == Contains:
			return strings.Contains(result.String(), c.value)
		case c.condition == Ne:
			return result.String() != c.value
		default:
			return result.String() == c.value
		}

	case TypeSchema:
		if resp.Err != nil {
			return false
		}
		var doc interface{}
		if err := json.Unmarshal(resp.Body, &doc); err != nil {
			return false
		}
		return c.schema.Validate(doc) == nil
	}

	return false
}

func defaultName(c *Check) string {
	switch c.typ {
	case TypeSchema:
		return "body matches schema"
	case TypeJSON:
		if c.condition == Exists {
			return fmt.Sprintf("%s exists", c.path)
		}
		return fmt.Sprintf("%s %s %s", c.path, c.condition, c.value)
	default:
		return fmt.Sprintf("%s %s %s", c.typ, c.condition, c.value)
	}
}

func isOrdering(cond Condition) bool {
	return cond == Gt || cond == Lt || cond == Gte || cond == Lte
}

func isNumeric(cond Condition) bool {
	return cond == Eq || cond == Ne || isOrdering(cond)
}

func compareNumbers(actual float64, cond Condition, expected float64) bool {
	switch cond {
	case Eq:
		return actual == expected
	case Ne:
		return actual != expected
	case Gt:
		return actual > expected
	case Lt:
		return actual < expected
	case Gte:
		return actual >= expected
	case Lte:
		return actual <= expected
	default:
		return false
	}
}
