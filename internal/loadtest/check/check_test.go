package check

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const greetingSchema = `{
  "type": "object",
  "properties": {"message": {"type": "string"}},
  "required": ["message"],
  "additionalProperties": false
}`

func hello() *Response {
	return &Response{StatusCode: 200, Body: []byte(`{"message":"Hello!"}`)}
}

func TestStatusIs(t *testing.T) {
	c := MustCompile(StatusIs(200))

	assert.Equal(t, "status was 200", c.Name())
	assert.True(t, c.Evaluate(hello()))
	assert.False(t, c.Evaluate(&Response{StatusCode: 404}))
	assert.False(t, c.Evaluate(&Response{Err: errors.New("connection refused")}))
	assert.False(t, c.Evaluate(nil))
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		resp *Response
		want bool
	}{
		{"status lt", Config{Type: TypeStatus, Condition: Lt, Value: "400"}, hello(), true},
		{"status gte fails", Config{Type: TypeStatus, Condition: Gte, Value: "500"}, hello(), false},
		{"body eq", Config{Type: TypeBody, Value: `{"message":"Hello!"}`}, hello(), true},
		{"body contains", Config{Type: TypeBody, Condition: Contains, Value: "Hello"}, hello(), true},
		{"body ne", Config{Type: TypeBody, Condition: Ne, Value: "nope"}, hello(), true},
		{"json eq", Config{Type: TypeJSON, Path: "message", Value: "Hello!"}, hello(), true},
		{"json eq mismatch", Config{Type: TypeJSON, Path: "message", Value: "Bye"}, hello(), false},
		{"json exists", Config{Type: TypeJSON, Path: "message", Condition: Exists}, hello(), true},
		{"json missing", Config{Type: TypeJSON, Path: "nope", Condition: Exists}, hello(), false},
		{"json missing ne", Config{Type: TypeJSON, Path: "nope", Condition: Ne, Value: "x"}, hello(), true},
		{"json gt", Config{Type: TypeJSON, Path: "n", Condition: Gt, Value: "2"}, &Response{Body: []byte(`{"n":3}`)}, true},
		{"json on invalid body", Config{Type: TypeJSON, Path: "message", Condition: Exists}, &Response{Body: []byte("404 page not found")}, false},
		{"schema valid", Config{Type: TypeSchema, Schema: greetingSchema}, hello(), true},
		{"schema extra field", Config{Type: TypeSchema, Schema: greetingSchema}, &Response{Body: []byte(`{"message":"x","y":1}`)}, false},
		{"schema not json", Config{Type: TypeSchema, Schema: greetingSchema}, &Response{Body: []byte("oops")}, false},
		{"body on error", Config{Type: TypeBody, Condition: Contains, Value: ""}, &Response{Err: errors.New("timeout")}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Compile(tt.cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, c.Evaluate(tt.resp))
		})
	}
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"unknown type", Config{Type: "header"}},
		{"status not a number", Config{Type: TypeStatus, Value: "ok"}},
		{"status contains", Config{Type: TypeStatus, Condition: Contains, Value: "2"}},
		{"body gt", Config{Type: TypeBody, Condition: Gt, Value: "1"}},
		{"json without path", Config{Type: TypeJSON, Value: "x"}},
		{"json ordering on text", Config{Type: TypeJSON, Path: "a", Condition: Lt, Value: "x"}},
		{"json unknown condition", Config{Type: TypeJSON, Path: "a", Condition: "matches"}},
		{"schema missing", Config{Type: TypeSchema}},
		{"schema invalid", Config{Type: TypeSchema, Schema: `{"type": 12}`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestDefaultNames(t *testing.T) {
	assert.Equal(t, "status eq 201", MustCompile(Config{Type: TypeStatus, Value: "201"}).Name())
	assert.Equal(t, "message eq Hello!", MustCompile(Config{Type: TypeJSON, Path: "message", Value: "Hello!"}).Name())
	assert.Equal(t, "message exists", MustCompile(Config{Type: TypeJSON, Path: "message", Condition: Exists}).Name())
	assert.Equal(t, "body matches schema", MustCompile(Config{Type: TypeSchema, Schema: greetingSchema}).Name())
}

func TestMustCompile_Panics(t *testing.T) {
	assert.Panics(t, func() { MustCompile(Config{Type: "bogus"}) })
}
