// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/gatekeep/gatekeep/internal/store"
)

// Migrator wraps the methods the migrate commands use from store.Migrator.
type Migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Version() (uint, bool, error)
	Force(version int) error
	PendingMigrations() ([]uint, error)
	Close() error
}

type migratorFactory func(url string) (Migrator, error)

func defaultMigratorFactory(url string) (Migrator, error) {
	return store.NewMigrator(url)
}

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	return newMigrateCmd(defaultMigratorFactory)
}

func newMigrateCmd(factory migratorFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
		Long: `Apply, roll back or inspect the PostgreSQL schema migrations.
The database URL comes from --database-url, the config file or DATABASE_URL.`,
		Args: cobra.NoArgs,
	}

	cmd.AddCommand(newMigrateUpCmd(factory))
	cmd.AddCommand(newMigrateDownCmd(factory))
	cmd.AddCommand(newMigrateStatusCmd(factory))
	cmd.AddCommand(newMigrateForceCmd(factory))

	return cmd
}

func newMigrateUpCmd(factory migratorFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, factory, func(m Migrator) error {
				cmd.Println("Running migrations...")
				if err := m.Up(); err != nil {
					return err
				}
				cmd.Println("Migrations completed successfully")
				return nil
			})
		},
	}
}

func newMigrateDownCmd(factory migratorFactory) *cobra.Command {
	var (
		steps int
		all   bool
	)
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations (one step by default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if steps < 1 {
				return oops.Code("INVALID_STEPS").With("steps", steps).Errorf("steps must be at least 1")
			}
			return withMigrator(cmd, factory, func(m Migrator) error {
				if all {
					cmd.Println("Rolling back all migrations...")
					if err := m.Down(); err != nil {
						return err
					}
				} else {
					cmd.Printf("Rolling back %d migration(s)...\n", steps)
					if err := m.Steps(-steps); err != nil {
						return err
					}
				}
				cmd.Println("Rollback completed successfully")
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")
	cmd.Flags().BoolVar(&all, "all", false, "roll back every migration")
	return cmd
}

func newMigrateForceCmd(factory migratorFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "force VERSION",
		Short: "Set the schema version without running migrations (clears the dirty flag)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := parseForceVersion(args[0])
			if err != nil {
				return err
			}
			return withMigrator(cmd, factory, func(m Migrator) error {
				if err := m.Force(v); err != nil {
					return err
				}
				cmd.Printf("Forced schema version to %d\n", v)
				return nil
			})
		},
	}
}

// migrationStatus is the machine-readable form of `migrate status`.
type migrationStatus struct {
	Version uint     `json:"version"`
	Dirty   bool     `json:"dirty"`
	Pending []string `json:"pending"`
}

func newMigrateStatusCmd(factory migratorFactory) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the current schema version and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, factory, func(m Migrator) error {
				st, err := collectStatus(m)
				if err != nil {
					return err
				}
				if asJSON {
					out, err := json.MarshalIndent(st, "", "  ")
					if err != nil {
						return oops.Code("STATUS_ENCODE_FAILED").Wrap(err)
					}
					cmd.Println(string(out))
					return nil
				}
				cmd.Print(formatStatusTable(st))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output status as JSON")
	return cmd
}

func collectStatus(m Migrator) (migrationStatus, error) {
	version, dirty, err := m.Version()
	if err != nil {
		return migrationStatus{}, err
	}
	pending, err := m.PendingMigrations()
	if err != nil {
		return migrationStatus{}, err
	}

	st := migrationStatus{Version: version, Dirty: dirty, Pending: make([]string, 0, len(pending))}
	for _, v := range pending {
		name, err := store.MigrationName(v)
		if err != nil || name == "" {
			name = fmt.Sprintf("%06d", v)
		}
		st.Pending = append(st.Pending, name)
	}
	return st, nil
}

func formatStatusTable(st migrationStatus) string {
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "VERSION\t%d\n", st.Version)
	_, _ = fmt.Fprintf(w, "DIRTY\t%t\n", st.Dirty)
	if len(st.Pending) == 0 {
		_, _ = fmt.Fprintf(w, "PENDING\tnone\n")
	}
	for i, name := range st.Pending {
		label := ""
		if i == 0 {
			label = "PENDING"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\n", label, name)
	}
	_ = w.Flush()
	return b.String()
}

// withMigrator resolves the database URL, opens a migrator and closes it after fn.
func withMigrator(cmd *cobra.Command, factory migratorFactory, fn func(Migrator) error) (err error) {
	url, err := databaseURL(cmd)
	if err != nil {
		return err
	}

	m, err := factory(url)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	return fn(m)
}

// databaseURL loads configuration and requires a database URL in it.
func databaseURL(cmd *cobra.Command) (string, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return "", err
	}
	if err := cfg.ValidateMigrate(); err != nil {
		return "", err
	}
	return cfg.Database.URL, nil
}

// parseForceVersion reads a leading integer. Trailing characters are ignored.
func parseForceVersion(s string) (int, error) {
	var v int
	if _, err := fmt.Sscanf(s, "%d", &v); err != nil {
		return 0, oops.Code("INVALID_VERSION").With("input", s).Wrapf(err, "version must be an integer")
	}
	return v, nil
}
