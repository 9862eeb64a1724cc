package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplaceString(t *testing.T) {
	e := New()
	vars := map[string]interface{}{
		"port":  18080,
		"host":  "127.0.0.1",
		"ratio": 0.5,
		"wide":  float64(8080),
		"debug": true,
	}

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"spaced", "--port={{ port }}", "--port=18080"},
		{"compact", "{{port}}", "18080"},
		{"dotted", "{{ .host }}:{{.port}}", "127.0.0.1:18080"},
		{"irregular spacing", "{{   port}}", "18080"},
		{"float", "{{ ratio }}", "0.5"},
		{"integral float", "{{ wide }}", "8080"},
		{"bool", "{{ debug }}", "true"},
		{"no placeholders", "plain", "plain"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.ReplaceString(tt.input, vars)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestReplaceMissingVariables(t *testing.T) {
	_, err := New().ReplaceString("{{ a }} {{ b }} {{ a }}", map[string]interface{}{})
	require.Error(t, err)
	assert.Equal(t, "missing template variables: a, b", err.Error())
}

func TestReplaceNested(t *testing.T) {
	input := map[string]interface{}{
		"command": "./bin/web",
		"args":    []interface{}{"--port", "{{ port }}", 3},
		"env":     map[string]interface{}{"UPSTREAM": "{{ payments_url }}"},
		"list":    []string{"{{ port }}"},
	}

	out, err := New().Replace(input, map[string]interface{}{"port": 9000, "payments_url": "http://127.0.0.1:4545"})
	require.NoError(t, err)

	m := out.(map[string]interface{})
	assert.Equal(t, []interface{}{"--port", "9000", 3}, m["args"])
	assert.Equal(t, "http://127.0.0.1:4545", m["env"].(map[string]interface{})["UPSTREAM"])
	assert.Equal(t, []string{"9000"}, m["list"])
	assert.Equal(t, "{{ port }}", input["args"].([]interface{})[1], "input is not mutated")
}

func TestReplaceNestedErrorPath(t *testing.T) {
	_, err := New().Replace(map[string]interface{}{
		"args": []interface{}{"ok", "{{ nope }}"},
	}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error in key 'args'")
	assert.Contains(t, err.Error(), "error at index 1")
}

func TestExtractVariables(t *testing.T) {
	vars := New().ExtractVariables(map[string]interface{}{
		"a": "{{ port }} {{ host }}",
		"b": []interface{}{"{{ .port }}", map[string]interface{}{"c": "{{ world }}"}},
	})
	assert.Equal(t, []string{"host", "port", "world"}, vars)
}

func TestMergeContextsAndVarName(t *testing.T) {
	merged := MergeContexts(map[string]interface{}{"a": 1, "b": 1}, map[string]interface{}{"b": 2})
	assert.Equal(t, map[string]interface{}{"a": 1, "b": 2}, merged)

	assert.Equal(t, "payments_api", VarName("payments-api"))
	assert.Equal(t, "a_b_c", VarName("a.b c"))
}
