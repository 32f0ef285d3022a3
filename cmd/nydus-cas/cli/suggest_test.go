// Copyright 2026 The Nydus Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"testing"

	"github.com/spf13/pflag"
)

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"", "abc", 3},
		{"abc", "", 3},
		{"gc", "gc", 0},
		{"lokup", "lookup", 1},
		{"recrod", "record", 2},
		{"kitten", "sitting", 3},
	}
	for _, test := range tests {
		if got := levenshtein(test.a, test.b); got != test.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", test.a, test.b, got, test.want)
		}
		if got := levenshtein(test.b, test.a); got != test.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", test.b, test.a, got, test.want)
		}
	}
}

func TestSuggestCommand(t *testing.T) {
	commands := []*Command{{Name: "serve"}, {Name: "fetch"}, {Name: "version"}}

	if got := suggestCommand("serv", commands); got != "serve" {
		t.Errorf("suggestCommand(serv) = %q, want serve", got)
	}
	if got := suggestCommand("unrelated", commands); got != "" {
		t.Errorf("suggestCommand(unrelated) = %q, want empty", got)
	}
}

func TestSuggestFlag(t *testing.T) {
	flagSet := pflag.NewFlagSet("fetch", pflag.ContinueOnError)
	flagSet.String("bootstrap", "", "")
	flagSet.Bool("validate", false, "")

	tests := []struct {
		args []string
		want string
	}{
		{[]string{"--bootstrp", "x"}, "--bootstrap"},
		{[]string{"--bootstrap", "x", "--valdate"}, "--validate"},
		{[]string{"--validatee=true"}, "--validate"},
		{[]string{"--", "--bootstrp"}, ""},
		{[]string{"--zzzzzzzzzz"}, ""},
	}
	for _, test := range tests {
		if got := suggestFlag(test.args, flagSet); got != test.want {
			t.Errorf("suggestFlag(%v) = %q, want %q", test.args, got, test.want)
		}
	}
}
