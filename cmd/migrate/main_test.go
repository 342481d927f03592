package main

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type fakeMigrator struct {
	upErr, downErr, versionErr, forceErr error

	version uint
	dirty   bool
	forced  []int
}

func (f *fakeMigrator) Up() error   { return f.upErr }
func (f *fakeMigrator) Down() error { return f.downErr }

func (f *fakeMigrator) Version() (uint, bool, error) {
	return f.version, f.dirty, f.versionErr
}

func (f *fakeMigrator) Force(v int) error {
	f.forced = append(f.forced, v)
	return f.forceErr
}

func TestRun(t *testing.T) {
	tests := []struct {
		name    string
		m       *fakeMigrator
		args    []string
		wantErr error
		wantLog string
	}{
		{name: "up", m: &fakeMigrator{}, args: []string{"up"}, wantLog: "Migrated up"},
		{name: "up no change", m: &fakeMigrator{upErr: migrate.ErrNoChange}, args: []string{"up"}, wantLog: "already up to date"},
		{name: "up wrapped no change", m: &fakeMigrator{upErr: fmt.Errorf("apply: %w", migrate.ErrNoChange)}, args: []string{"up"}, wantLog: "already up to date"},
		{name: "up failure", m: &fakeMigrator{upErr: errors.New("syntax error")}, args: []string{"up"}, wantErr: errors.New("")},
		{name: "down no change", m: &fakeMigrator{downErr: migrate.ErrNoChange}, args: []string{"down"}, wantLog: "Nothing to roll back"},
		{name: "version", m: &fakeMigrator{version: 3, dirty: true}, args: []string{"version"}, wantLog: `"version":3`},
		{name: "version none", m: &fakeMigrator{versionErr: migrate.ErrNilVersion}, args: []string{"version"}, wantLog: "No migration applied"},
		{name: "force", m: &fakeMigrator{}, args: []string{"force", "2"}, wantLog: "Forced version"},
		{name: "force missing version", m: &fakeMigrator{}, args: []string{"force"}, wantErr: errUsage},
		{name: "force bad version", m: &fakeMigrator{}, args: []string{"force", "two"}, wantErr: errUsage},
		{name: "unknown command", m: &fakeMigrator{}, args: []string{"sideways"}, wantErr: errUsage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			err := run(tt.m, tt.args, zerolog.New(&buf))

			switch {
			case tt.wantErr == nil:
				assert.NoError(t, err)
				assert.Contains(t, buf.String(), tt.wantLog)
			case errors.Is(tt.wantErr, errUsage):
				assert.ErrorIs(t, err, errUsage)
			default:
				assert.Error(t, err)
				assert.NotErrorIs(t, err, errUsage)
			}
		})
	}
}

func TestRunForcePassesVersion(t *testing.T) {
	m := &fakeMigrator{}
	assert.NoError(t, run(m, []string{"force", "7"}, zerolog.Nop()))
	assert.Equal(t, []int{7}, m.forced)
}
