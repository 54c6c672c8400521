// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PricePulse Contributors

package store

import (
	"errors"
	"regexp"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pricepulse/pricepulse/internal/errutil"
)

// latestVersion is the highest embedded migration.
const latestVersion = 2

type fakeMigrate struct {
	upErr          error
	downErr        error
	stepsErr       error
	stepsCalled    bool
	versionVal     uint
	versionErr     error
	dirty          bool
	forceErr       error
	closeSourceErr error
	closeDbErr     error
}

func (m *fakeMigrate) Up() error   { return m.upErr }
func (m *fakeMigrate) Down() error { return m.downErr }
func (m *fakeMigrate) Steps(_ int) error {
	m.stepsCalled = true
	return m.stepsErr
}
func (m *fakeMigrate) Version() (uint, bool, error) { return m.versionVal, m.dirty, m.versionErr }
func (m *fakeMigrate) Force(_ int) error            { return m.forceErr }
func (m *fakeMigrate) Close() (error, error)        { return m.closeSourceErr, m.closeDbErr }

func TestMigrateURL(t *testing.T) {
	tests := map[string]string{
		"postgres://u:p@db:5432/pp":   "pgx5://u:p@db:5432/pp",
		"postgresql://u:p@db:5432/pp": "pgx5://u:p@db:5432/pp",
		"pgx5://u:p@db:5432/pp":       "pgx5://u:p@db:5432/pp",
		"badscheme://db/pp":           "badscheme://db/pp",
	}
	for in, want := range tests {
		assert.Equal(t, want, MigrateURL(in), in)
	}
}

func TestNewMigrator_InvalidURL(t *testing.T) {
	_, err := NewMigrator("badscheme://localhost:5432/pricepulse")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "MIGRATION_INIT_FAILED")
}

func TestMigrationsFS_EmbeddedFiles(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	require.NoError(t, err)
	assert.Len(t, entries, latestVersion*2, "each migration has an up and a down file")

	pattern := regexp.MustCompile(`^\d{6}_\w+\.(up|down)\.sql$`)
	names := make(map[string]bool)
	for _, entry := range entries {
		names[entry.Name()] = true
		assert.Regexp(t, pattern, entry.Name())
	}
	assert.True(t, names["000001_create_users.up.sql"])
	assert.True(t, names["000001_create_users.down.sql"])
}

func TestMigrationName(t *testing.T) {
	name, err := MigrationName(1)
	require.NoError(t, err)
	assert.Equal(t, "000001_create_users", name)

	name, err = MigrationName(99)
	require.NoError(t, err)
	assert.Empty(t, name)
}

func TestMigrator_ErrorCodes(t *testing.T) {
	boom := errors.New("database locked")
	tests := []struct {
		name string
		fake *fakeMigrate
		call func(*Migrator) error
		code string
	}{
		{"up", &fakeMigrate{upErr: boom}, (*Migrator).Up, "MIGRATION_UP_FAILED"},
		{"down", &fakeMigrate{downErr: boom}, (*Migrator).Down, "MIGRATION_DOWN_FAILED"},
		{"steps", &fakeMigrate{stepsErr: boom}, func(m *Migrator) error { return m.Steps(1) }, "MIGRATION_STEPS_FAILED"},
		{"version", &fakeMigrate{versionErr: boom}, func(m *Migrator) error { _, _, err := m.Version(); return err }, "MIGRATION_VERSION_FAILED"},
		{"force", &fakeMigrate{forceErr: boom}, func(m *Migrator) error { return m.Force(1) }, "MIGRATION_FORCE_FAILED"},
		{"force negative", &fakeMigrate{}, func(m *Migrator) error { return m.Force(-1) }, "INVALID_VERSION"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call(&Migrator{m: tt.fake})
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, tt.code)
		})
	}
}

func TestMigrator_NoChangeIsSuccess(t *testing.T) {
	m := &Migrator{m: &fakeMigrate{
		upErr:    migrate.ErrNoChange,
		downErr:  migrate.ErrNoChange,
		stepsErr: migrate.ErrNoChange,
	}}
	require.NoError(t, m.Up())
	require.NoError(t, m.Down())
	require.NoError(t, m.Steps(-1))
}

func TestMigrator_StepsZeroIsNoOp(t *testing.T) {
	fake := &fakeMigrate{}
	require.NoError(t, (&Migrator{m: fake}).Steps(0))
	assert.False(t, fake.stepsCalled)
}

func TestMigrator_Version(t *testing.T) {
	version, dirty, err := (&Migrator{m: &fakeMigrate{versionVal: 2, dirty: true}}).Version()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.True(t, dirty)

	version, dirty, err = (&Migrator{m: &fakeMigrate{versionErr: migrate.ErrNilVersion}}).Version()
	require.NoError(t, err, "an unmigrated database is version 0")
	assert.Zero(t, version)
	assert.False(t, dirty)
}

func TestMigrator_Close(t *testing.T) {
	require.NoError(t, (&Migrator{m: &fakeMigrate{}}).Close())

	tests := []struct {
		name      string
		fake      *fakeMigrate
		component string
	}{
		{"source", &fakeMigrate{closeSourceErr: errors.New("source close failed")}, "source"},
		{"database", &fakeMigrate{closeDbErr: errors.New("db close failed")}, "database"},
		{"both", &fakeMigrate{
			closeSourceErr: errors.New("source close failed"),
			closeDbErr:     errors.New("db close failed"),
		}, "both"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := (&Migrator{m: tt.fake}).Close()
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, "MIGRATION_CLOSE_FAILED")
			errutil.AssertErrorContext(t, err, "component", tt.component)
		})
	}

	err := (&Migrator{m: &fakeMigrate{
		closeSourceErr: errors.New("source close failed"),
		closeDbErr:     errors.New("db close failed"),
	}}).Close()
	assert.Contains(t, err.Error(), "source close failed")
	assert.Contains(t, err.Error(), "db close failed")
}

func TestMigrator_PendingMigrations(t *testing.T) {
	tests := []struct {
		name string
		fake *fakeMigrate
		want []uint
	}{
		{"fresh database", &fakeMigrate{versionErr: migrate.ErrNilVersion}, []uint{1, 2}},
		{"partially migrated", &fakeMigrate{versionVal: 1}, []uint{2}},
		{"latest", &fakeMigrate{versionVal: latestVersion}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pending, err := (&Migrator{m: tt.fake}).PendingMigrations()
			require.NoError(t, err)
			assert.Equal(t, tt.want, pending)
		})
	}

	_, err := (&Migrator{m: &fakeMigrate{versionErr: errors.New("connection lost")}}).PendingMigrations()
	require.Error(t, err)
	errutil.AssertErrorContext(t, err, "operation", "list pending migrations")
}

func TestMigrationVersions_ReturnsCopy(t *testing.T) {
	first, err := migrationVersions()
	require.NoError(t, err)
	first[0] = 99

	second, err := migrationVersions()
	require.NoError(t, err)
	assert.Equal(t, []uint{1, 2}, second)
}
