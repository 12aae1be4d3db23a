package cond

import (
	"reflect"
	"testing"
)

type mapResolver map[string]string

func (m mapResolver) Lookup(k string) string { return m[k] }

func TestEvaluate(t *testing.T) {
	r := mapResolver{
		"in_scope":  "true",
		"route":     "direct",
		"loop_done": "false",
		"plan":      "present",
	}
	cases := []struct {
		cond string
		want bool
	}{
		{"", true},
		{"in_scope=true", true},
		{"in_scope=false", false},
		{"route!=plan", true},
		{"context.route=direct", true},
		{"in_scope=true && route=direct", true},
		{"in_scope=true && loop_done=true", false},
		{"plan", true},
		{"loop_done", false},
		{"missing", false},
		{"missing=foo", false},
		{"missing=", true},
	}
	for _, tc := range cases {
		got, err := Evaluate(tc.cond, r)
		if err != nil {
			t.Fatalf("Evaluate(%q) error: %v", tc.cond, err)
		}
		if got != tc.want {
			t.Fatalf("Evaluate(%q)=%v, want %v", tc.cond, got, tc.want)
		}
	}
}

func TestEvaluate_NilResolver(t *testing.T) {
	got, err := Evaluate("route=plan", nil)
	if err != nil || got {
		t.Fatalf("got %v err %v", got, err)
	}
}

func TestEvaluate_InvalidClause(t *testing.T) {
	if _, err := Evaluate("=plan", mapResolver{}); err == nil {
		t.Fatalf("expected error for missing key")
	}
	if _, err := Evaluate("a b=c", mapResolver{}); err == nil {
		t.Fatalf("expected error for key with whitespace")
	}
}

func TestKeys(t *testing.T) {
	got, err := Keys("context.in_scope=true && admin && route!=plan")
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	want := []string{"in_scope", "admin", "route"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Keys=%v want %v", got, want)
	}
}
