package syntax

import (
	"context"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoChecker(t *testing.T) {
	r := Default()
	se, err := r.Check(context.Background(), "main.go", []byte("package main\n\nfunc main() {\n"))
	require.NoError(t, err)
	require.NotNil(t, se)
	assert.Equal(t, "main.go", se.Path)
	assert.Positive(t, se.Line)
	assert.Contains(t, se.Error(), "main.go:")

	se, err = r.Check(context.Background(), "ok.go", []byte("package ok\n\nfunc F() int { return 1 }\n"))
	require.NoError(t, err)
	assert.Nil(t, se)
}

func TestJSONChecker(t *testing.T) {
	r := Default()
	se, err := r.Check(context.Background(), "cfg.json", []byte("{\n  \"a\": 1,\n}"))
	require.NoError(t, err)
	require.NotNil(t, se)
	assert.Equal(t, 3, se.Line)
	assert.Contains(t, se.Message, "invalid character")

	se, err = r.Check(context.Background(), "ok.JSON", []byte(`{"a": [1, 2]}`))
	require.NoError(t, err)
	assert.Nil(t, se)
}

func TestYAMLChecker(t *testing.T) {
	r := Default()
	se, err := r.Check(context.Background(), "ci.yaml", []byte("a: [1, 2\nb: 3\n"))
	require.NoError(t, err)
	require.NotNil(t, se)
	assert.Equal(t, "ci.yaml", se.Path)

	se, err = r.Check(context.Background(), "ok.yml", []byte("a: 1\n---\nb: [x, y]\n"))
	require.NoError(t, err)
	assert.Nil(t, se)
}

func TestUnknownExtensionIsSkipped(t *testing.T) {
	se, err := Default().Check(context.Background(), "README.md", []byte("# {{{"))
	assert.NoError(t, err)
	assert.Nil(t, se)
	assert.False(t, Default().Supports("README.md"))
	assert.True(t, Default().Supports("x.PY"))
}

func TestPythonChecker(t *testing.T) {
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not installed")
	}
	r := Default()
	se, err := r.Check(context.Background(), "calc.py", []byte("def add(a, b)\n    return a + b\n"))
	require.NoError(t, err)
	require.NotNil(t, se)
	assert.Equal(t, 1, se.Line)
	assert.Contains(t, se.Error(), "calc.py:1")

	se, err = r.Check(context.Background(), "ok.py", []byte("def add(a, b):\n    return a + b\n"))
	require.NoError(t, err)
	assert.Nil(t, se)
}

func TestPythonChecker_Unavailable(t *testing.T) {
	c := &PythonChecker{Interpreter: "definitely-not-a-python-binary"}
	err := c.Check(context.Background(), "x.py", []byte("x = 1"))
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestLineCol(t *testing.T) {
	line, col := lineCol([]byte("ab\ncd"), 4)
	assert.Equal(t, 2, line)
	assert.Equal(t, 2, col)
}
