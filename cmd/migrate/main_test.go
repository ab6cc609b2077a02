package main

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appmigrations "github.com/wolfman30/commerce-concierge/migrations"
)

type fakeMigrator struct {
	upErr   error
	steps   []int
	forced  int
	version uint
	verErr  error
}

func (f *fakeMigrator) Up() error               { return f.upErr }
func (f *fakeMigrator) Steps(n int) error       { f.steps = append(f.steps, n); return nil }
func (f *fakeMigrator) Force(version int) error { f.forced = version; return nil }
func (f *fakeMigrator) Version() (uint, bool, error) {
	return f.version, false, f.verErr
}

func TestRunCommands(t *testing.T) {
	m := &fakeMigrator{upErr: migrate.ErrNoChange, version: 2}

	msg, err := run(m, nil)
	require.NoError(t, err)
	assert.Equal(t, "migrations complete", msg)

	_, err = run(m, []string{"down", "1"})
	require.NoError(t, err)
	assert.Equal(t, []int{-1}, m.steps)

	_, err = run(m, []string{"force", "1"})
	require.NoError(t, err)
	assert.Equal(t, 1, m.forced)

	msg, err = run(m, []string{"version"})
	require.NoError(t, err)
	assert.Equal(t, "version 2 (dirty=false)", msg)

	m.verErr = migrate.ErrNilVersion
	msg, err = run(m, []string{"version"})
	require.NoError(t, err)
	assert.Equal(t, "no migrations applied", msg)

	_, err = run(m, []string{"down"})
	assert.Error(t, err)
	_, err = run(m, []string{"sideways"})
	assert.Error(t, err)
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	names, err := fs.Glob(appmigrations.FS, "*.sql")
	require.NoError(t, err)
	ups, downs := 0, 0
	for _, n := range names {
		switch {
		case strings.HasSuffix(n, ".up.sql"):
			ups++
		case strings.HasSuffix(n, ".down.sql"):
			downs++
		}
	}
	assert.Equal(t, 2, ups)
	assert.Equal(t, ups, downs)
}
