package syntax

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"go/parser"
	"go/scanner"
	"go/token"
	"io"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

func checkGo(_ context.Context, path string, src []byte) error {
	_, err := parser.ParseFile(token.NewFileSet(), path, src, parser.AllErrors)
	if err == nil {
		return nil
	}
	var list scanner.ErrorList
	if errors.As(err, &list) && len(list) > 0 {
		first := list[0]
		msg := first.Msg
		if len(list) > 1 {
			msg += " (and " + strconv.Itoa(len(list)-1) + " more)"
		}
		return &Error{Path: path, Line: first.Pos.Line, Column: first.Pos.Column, Message: msg}
	}
	return &Error{Path: path, Message: err.Error()}
}

func checkJSON(_ context.Context, path string, src []byte) error {
	var v any
	err := json.Unmarshal(src, &v)
	if err == nil {
		return nil
	}
	var se *json.SyntaxError
	if errors.As(err, &se) {
		line, col := lineCol(src, int(se.Offset))
		return &Error{Path: path, Line: line, Column: col, Message: se.Error()}
	}
	return &Error{Path: path, Message: err.Error()}
}

var yamlLineRE = regexp.MustCompile(`line (\d+)`)

func checkYAML(_ context.Context, path string, src []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(src))
	for {
		var n yaml.Node
		err := dec.Decode(&n)
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		line := 0
		if m := yamlLineRE.FindStringSubmatch(err.Error()); m != nil {
			line, _ = strconv.Atoi(m[1])
		}
		return &Error{Path: path, Line: line, Message: strings.TrimPrefix(err.Error(), "yaml: ")}
	}
}

// lineCol converts a byte offset into 1-based line and column numbers.
func lineCol(src []byte, offset int) (int, int) {
	if offset > len(src) {
		offset = len(src)
	}
	line, col := 1, 1
	for _, b := range src[:offset] {
		if b == '\n' {
			line++
			col = 1
			continue
		}
		col++
	}
	return line, col
}

// pythonCheck parses stdin with the interpreter's own ast module and prints
// "line:col:message" on failure.
const pythonCheck = `import ast, sys
src = sys.stdin.read()
try:
    ast.parse(src, filename=sys.argv[1])
except SyntaxError as e:
    print("%d:%d:%s" % (e.lineno or 0, e.offset or 0, e.msg))
    sys.exit(1)
`

// PythonChecker shells out to a local interpreter. It reports ErrUnavailable
// when the interpreter is missing.
type PythonChecker struct {
	Interpreter string
}

func (p *PythonChecker) Check(ctx context.Context, path string, src []byte) error {
	interp := p.Interpreter
	if interp == "" {
		interp = "python3"
	}
	bin, err := exec.LookPath(interp)
	if err != nil {
		return ErrUnavailable
	}
	cmd := exec.CommandContext(ctx, bin, "-c", pythonCheck, path)
	cmd.Stdin = bytes.NewReader(src)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err = cmd.Run()
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return err
	}
	out := strings.TrimSpace(stdout.String())
	parts := strings.SplitN(out, ":", 3)
	if len(parts) != 3 {
		msg := out
		if msg == "" {
			msg = strings.TrimSpace(stderr.String())
		}
		return &Error{Path: path, Message: msg}
	}
	line, _ := strconv.Atoi(parts[0])
	col, _ := strconv.Atoi(parts[1])
	return &Error{Path: path, Line: line, Column: col, Message: parts[2]}
}
