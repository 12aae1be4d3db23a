package cond

import (
	"fmt"
	"strings"
)

// Resolver maps a routing key to its string value. Missing keys resolve to
// the empty string.
type Resolver interface {
	Lookup(key string) string
}

// Evaluate evaluates the AND-only condition language used on edges.
//
//	ConditionExpr ::= Clause ( '&&' Clause )*
//	Clause        ::= Key Operator Literal | Key
//	Key           ::= Name | 'context.' Name
//	Operator      ::= '=' | '!='
//
// Comparisons are exact string comparisons. A bare key is truthy when it is
// non-empty and not "false", "0" or "no".
func Evaluate(condition string, r Resolver) (bool, error) {
	condition = strings.TrimSpace(condition)
	if condition == "" {
		return true, nil
	}
	for _, clause := range strings.Split(condition, "&&") {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		ok, err := evalClause(clause, r)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// Keys returns the keys referenced by condition, in order of appearance.
func Keys(condition string) ([]string, error) {
	var keys []string
	for _, clause := range strings.Split(strings.TrimSpace(condition), "&&") {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		k, _, _, err := splitClause(clause)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, nil
}

func evalClause(clause string, r Resolver) (bool, error) {
	k, op, want, err := splitClause(clause)
	if err != nil {
		return false, err
	}
	got := resolveKey(k, r)
	switch op {
	case "!=":
		return got != want, nil
	case "=":
		return got == want, nil
	}
	if got == "" {
		return false, nil
	}
	switch strings.ToLower(got) {
	case "false", "0", "no":
		return false, nil
	default:
		return true, nil
	}
}

func splitClause(clause string) (key, op, value string, err error) {
	switch {
	case strings.Contains(clause, "!="):
		op = "!="
	case strings.Contains(clause, "="):
		op = "="
	}
	if op == "" {
		key = normalizeKey(clause)
	} else {
		parts := strings.SplitN(clause, op, 2)
		key, value = normalizeKey(parts[0]), strings.TrimSpace(parts[1])
	}
	if key == "" || strings.ContainsAny(key, " \t=!") {
		return "", "", "", fmt.Errorf("invalid clause: %q", clause)
	}
	return key, op, value, nil
}

func normalizeKey(k string) string {
	return strings.TrimPrefix(strings.TrimSpace(k), "context.")
}

func resolveKey(key string, r Resolver) string {
	if r == nil {
		return ""
	}
	return r.Lookup(key)
}
