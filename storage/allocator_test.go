package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocatorFiresPressureCallbackOnceOnCrossing(t *testing.T) {
	require := require.New(t)
	a := NewAllocator(100, nil)
	var fired int
	a.RegisterPressureCallback(func() { fired++ })

	a.Account(50)
	require.Equal(0, fired)

	a.Account(60) // crosses 100
	require.Equal(1, fired)

	a.Account(10) // still above threshold, not a fresh crossing
	require.Equal(1, fired)
}

func TestAllocatorUtilization(t *testing.T) {
	require := require.New(t)
	a := NewAllocator(200, nil)
	require.Equal(0.0, a.Utilization())
	a.AllocHeap(100)
	require.Equal(0.5, a.Utilization())
	a.FreeHeap(100)
	require.Equal(0.0, a.Utilization())
}

func TestAllocatorMmapFileRoundtrip(t *testing.T) {
	require := require.New(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "region.dat")
	require.NoError(os.WriteFile(path, []byte("0123456789"), 0o644))

	a := NewAllocator(0, nil)
	region, err := a.MmapFile(path, 0, 10)
	require.NoError(err)
	require.Equal([]byte("0123456789"), region.Bytes())
	require.NoError(region.Close())
}

func TestAllocatorUnregisterCallbackClearsIt(t *testing.T) {
	require := require.New(t)
	a := NewAllocator(10, nil)
	var fired bool
	a.RegisterPressureCallback(func() { fired = true })
	a.RegisterPressureCallback(nil)
	a.Account(20)
	require.False(fired)
}
