package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultHasSaneFields(t *testing.T) {
	r := Default()
	assert.Equal(t, 4, r.Localities)
	assert.Equal(t, "inproc", r.Transport.Backend)
}

func TestLoadParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shad.yaml")
	contents := `
localities: 8
workers_per_locality: 2
log:
  level: debug
  json: true
metrics:
  enabled: true
  addr: ":9999"
transport:
  backend: grpc
  peers:
    - "10.0.0.1:7000"
    - "10.0.0.2:7000"
`
	assert.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	r, err := Load(path)
	assert.NoError(t, err)
	assert.Equal(t, 8, r.Localities)
	assert.Equal(t, 2, r.WorkersPerLocality)
	assert.Equal(t, "debug", r.Log.Level)
	assert.True(t, r.Log.JSON)
	assert.Equal(t, "grpc", r.Transport.Backend)
	assert.Len(t, r.Transport.Peers, 2)
}

func TestLoadRejectsNonPositiveLocalities(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	assert.NoError(t, os.WriteFile(path, []byte("localities: 0\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := Load("/nonexistent/path/shad.yaml")
	assert.Error(t, err)
}
