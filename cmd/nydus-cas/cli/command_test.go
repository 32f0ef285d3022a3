// Copyright 2026 The Nydus Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

func TestCommand_Execute_DispatchesToSubcommand(t *testing.T) {
	var called string

	root := &Command{
		Name: "nydus-cas",
		Subcommands: []*Command{
			{
				Name: "gc",
				Run: func(args []string) error {
					called = "gc"
					return nil
				},
			},
			{
				Name: "list",
				Run: func(args []string) error {
					called = "list"
					return nil
				},
			},
		},
	}

	if err := root.Execute([]string{"list"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if called != "list" {
		t.Errorf("dispatched to %q, want %q", called, "list")
	}
}

func TestCommand_Execute_NestedSubcommands(t *testing.T) {
	var called string
	var receivedArgs []string

	root := &Command{
		Name: "nydus-cas",
		Subcommands: []*Command{
			{
				Name: "dict",
				Subcommands: []*Command{
					{
						Name: "inspect",
						Run: func(args []string) error {
							called = "dict inspect"
							receivedArgs = args
							return nil
						},
					},
				},
			},
		},
	}

	if err := root.Execute([]string{"dict", "inspect", "image.boot"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if called != "dict inspect" {
		t.Errorf("dispatched to %q, want %q", called, "dict inspect")
	}
	if len(receivedArgs) != 1 || receivedArgs[0] != "image.boot" {
		t.Errorf("args = %v, want [image.boot]", receivedArgs)
	}
}

func TestCommand_Execute_FlagParsing(t *testing.T) {
	var databasePath string
	var offset uint64

	command := &Command{
		Name: "record",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("record", pflag.ContinueOnError)
			flagSet.StringVar(&databasePath, "db", "", "database path")
			flagSet.Uint64Var(&offset, "offset", 0, "chunk offset")
			return flagSet
		},
		Run: func(args []string) error { return nil },
	}

	if err := command.Execute([]string{"--db", "/tmp/cas.db", "--offset=4096"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if databasePath != "/tmp/cas.db" {
		t.Errorf("db = %q, want /tmp/cas.db", databasePath)
	}
	if offset != 4096 {
		t.Errorf("offset = %d, want 4096", offset)
	}
}

func TestCommand_Execute_UnknownCommandSuggests(t *testing.T) {
	root := &Command{
		Name: "nydus-cas",
		Subcommands: []*Command{
			{Name: "lookup", Run: func([]string) error { return nil }},
			{Name: "record", Run: func([]string) error { return nil }},
		},
	}

	err := root.Execute([]string{"lokup"})
	if err == nil {
		t.Fatal("expected error for unknown command")
	}
	if !strings.Contains(err.Error(), `did you mean "lookup"`) {
		t.Errorf("error = %q, want suggestion for lookup", err)
	}
}

func TestCommand_Execute_UnknownFlagSuggests(t *testing.T) {
	command := &Command{
		Name: "lookup",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("lookup", pflag.ContinueOnError)
			flagSet.String("engine", "", "index engine")
			return flagSet
		},
		Run: func([]string) error { return nil },
	}

	err := command.Execute([]string{"--engnie", "badger"})
	if err == nil {
		t.Fatal("expected error for unknown flag")
	}
	if !strings.Contains(err.Error(), "did you mean --engine") {
		t.Errorf("error = %q, want suggestion for --engine", err)
	}
}

func TestCommand_Execute_SubcommandRequired(t *testing.T) {
	var help bytes.Buffer
	root := &Command{
		Name:       "dict",
		HelpOutput: &help,
		Subcommands: []*Command{
			{Name: "inspect", Summary: "Describe a chunk dictionary"},
		},
	}

	err := root.Execute(nil)
	if err == nil || !strings.Contains(err.Error(), "subcommand required") {
		t.Fatalf("Execute() error = %v, want subcommand required", err)
	}
	if !strings.Contains(help.String(), "inspect") {
		t.Errorf("help output missing subcommand listing:\n%s", help.String())
	}
}

func TestCommand_PrintHelp(t *testing.T) {
	parent := &Command{Name: "nydus-cas"}
	command := &Command{
		Name:        "record",
		Description: "Record a chunk location.",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("record", pflag.ContinueOnError)
			flagSet.String("key", "", "chunk key")
			return flagSet
		},
		Examples: []Example{
			{Description: "Record one chunk", Command: "nydus-cas record --key sha256:ab --path /x --offset 0"},
		},
		parent: parent,
	}

	var buffer bytes.Buffer
	command.PrintHelp(&buffer)
	output := buffer.String()

	for _, want := range []string{
		"Record a chunk location.",
		"nydus-cas record [flags]",
		"--key",
		"# Record one chunk",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("help output missing %q:\n%s", want, output)
		}
	}
}

func TestCommand_Execute_HelpFlag(t *testing.T) {
	var help bytes.Buffer
	ran := false
	command := &Command{
		Name:       "gc",
		Summary:    "Remove stale blobs",
		HelpOutput: &help,
		Run: func([]string) error {
			ran = true
			return nil
		},
	}

	if err := command.Execute([]string{"--help"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if ran {
		t.Error("Run called for --help")
	}
	if !strings.Contains(help.String(), "Remove stale blobs") {
		t.Errorf("help output = %q", help.String())
	}
}
