// SPDX-License-Identifier: Apache-2.0

// Package persistence implements the PersistenceBinder contract of
// spec.md §6: a persistable entity exposes its table name, field
// definitions, and row load/bind methods, so a Store can save and
// restore it without the store knowing the entity's concrete type.
// ZoneRow is the one Binder implemented in this package. Built directly on
// database/sql's Scanner/*sql.Stmt shapes since spec.md §1 places the
// persistence engine itself out of scope and no pack repo wires a
// concrete SQL driver to ground one on (see DESIGN.md).
package persistence

import (
	"database/sql"
	"strings"

	"github.com/plan44dev/vdc-host/dsuid"
	"github.com/plan44dev/vdc-host/types"
)

// CommonFlags is the bitmask every persisted row carries alongside its
// entity-specific fields, mirroring the original's aCommonFlags
// parameter threaded through loadFromRow/bindToStatement.
type CommonFlags uint64

const (
	FlagGlobal CommonFlags = 1 << iota
	FlagReadOnly
)

// FieldDef names one persisted column and its SQL type, per spec.md §6
// ("numFieldDefs()/getFieldDef(i) -> (name,type)").
type FieldDef struct {
	Name string
	Type string
}

// RowScanner mirrors *sql.Row/*sql.Rows's Scan method so LoadFromRow can
// be driven by either one without depending on a concrete driver.
type RowScanner interface {
	Scan(dest ...any) error
}

// Binder is the contract a persistable entity implements, per spec.md §6.
type Binder interface {
	TableName() string
	NumFieldDefs() int
	FieldDef(i int) FieldDef
	LoadFromRow(row RowScanner, idx int, flags CommonFlags) error
	BindToStatement(stmt *sql.Stmt, idx int, parentID string, flags CommonFlags) error
}

// Store tracks schema version and produces migration statements; it does
// not itself open a database connection (spec.md §1 non-goal).
type Store struct {
	SchemaVersion int
}

// Migration is one schema-upgrade step's SQL statements, keyed by the
// version it upgrades to.
type Migration struct {
	ToVersion  int
	Statements []string
}

// UpgradeSchema returns, in order, the SQL statements needed to carry the
// schema from "from" to "to", per spec.md §6 ("dbSchemaUpgradeSQL(from,
// to)"). Migrations not covering the requested range are skipped.
func (s *Store) UpgradeSchema(from, to int, migrations []Migration) []string {
	var stmts []string
	for _, m := range migrations {
		if m.ToVersion > from && m.ToVersion <= to {
			stmts = append(stmts, m.Statements...)
		}
	}
	return stmts
}

// ZoneRow binds a types.Zone to the "zones" table, the row-identity being
// "list" (multiple zones per installation, spec.md §6). Devices is stored
// as a comma-joined hex dSUID list rather than a child table, since a
// zone's membership is small and rarely changes.
type ZoneRow struct {
	Zone *types.Zone
}

func (ZoneRow) TableName() string { return "zones" }

func (ZoneRow) NumFieldDefs() int { return 5 }

func (ZoneRow) FieldDef(i int) FieldDef {
	defs := []FieldDef{
		{"zoneId", "INTEGER"},
		{"name", "TEXT"},
		{"devices", "TEXT"},
		{"lastLightScene", "INTEGER"},
		{"lastGlobalScene", "INTEGER"},
	}
	return defs[i]
}

func (r ZoneRow) LoadFromRow(row RowScanner, idx int, flags CommonFlags) error {
	var devices string
	if err := row.Scan(&r.Zone.ZoneID, &r.Zone.Name, &devices, &r.Zone.LastLightScene, &r.Zone.LastGlobalScene); err != nil {
		return err
	}
	r.Zone.Devices = nil
	for _, hexID := range strings.Split(devices, ",") {
		if hexID == "" {
			continue
		}
		id, err := dsuid.Parse(hexID)
		if err != nil {
			return err
		}
		r.Zone.Devices = append(r.Zone.Devices, id)
	}
	return nil
}

func (r ZoneRow) BindToStatement(stmt *sql.Stmt, idx int, parentID string, flags CommonFlags) error {
	hexIDs := make([]string, len(r.Zone.Devices))
	for i, id := range r.Zone.Devices {
		hexIDs[i] = id.String()
	}
	_, err := stmt.Exec(r.Zone.ZoneID, r.Zone.Name, strings.Join(hexIDs, ","), r.Zone.LastLightScene, r.Zone.LastGlobalScene)
	return err
}

var _ Binder = ZoneRow{}
