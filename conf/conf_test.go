package conf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadWithoutConfluoConfReturnsDefaults(t *testing.T) {
	require := require.New(t)
	t.Setenv("CONFLUO_CONF", "/nonexistent/path/confluo.conf")

	p, err := Load()
	require.NoError(err)
	require.Equal(Defaults(), p)
}

func TestLoadParsesFirstExistingCandidate(t *testing.T) {
	require := require.New(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "confluo.conf")
	require.NoError(os.WriteFile(path, []byte(`
max_memory = 42
index_block_size = 2.5
data_log_archival_encoding = "identity"
`), 0o644))

	t.Setenv("CONFLUO_CONF", "/nonexistent/path/confluo.conf:"+path)

	p, err := Load()
	require.NoError(err)
	require.Equal(uint64(42), p.MaxMemory)
	require.Equal(2.5, p.IndexBucketSize)
	require.Equal(EncodingIdentity, p.DataLogArchivalEncoding)
	// Unset keys keep their defaults.
	require.Equal(Defaults().MaxConcurrency, p.MaxConcurrency)
}

func TestLoadMissingFileOnAllCandidatesReturnsDefaults(t *testing.T) {
	require := require.New(t)
	t.Setenv("CONFLUO_CONF", "")

	p, err := Load()
	require.NoError(err)
	require.Equal(Defaults(), p)
}
