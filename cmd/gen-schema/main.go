// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

// Command gen-schema writes the JSON Schema for gatekeep YAML config files.
//
//	go run ./cmd/gen-schema --out schemas/config.schema.json
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/gatekeep/gatekeep/internal/config"
)

func main() {
	out := pflag.StringP("out", "o", filepath.Join("schemas", "config.schema.json"), "output path (- for stdout)")
	pflag.Parse()

	if err := run(*out); err != nil {
		fmt.Fprintf(os.Stderr, "gen-schema: %v\n", err)
		os.Exit(1)
	}
}

func run(out string) error {
	schema, err := config.GenerateSchema()
	if err != nil {
		return err
	}

	if out == "-" {
		_, err = os.Stdout.Write(append(schema, '\n'))
		return err
	}

	if err := os.MkdirAll(filepath.Dir(out), 0o750); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	if err := os.WriteFile(out, schema, 0o600); err != nil {
		return fmt.Errorf("write schema: %w", err)
	}

	fmt.Printf("Generated %s\n", out)
	return nil
}
