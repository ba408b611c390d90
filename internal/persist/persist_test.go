package persist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/flowtele/log2"
)

type blob struct{ b []byte }

func (s *blob) MarshalBinary() ([]byte, error) { return append([]byte(nil), s.b...), nil }
func (s *blob) UnmarshalBinary(b []byte) error {
	s.b = append([]byte(nil), b...)
	return nil
}

func TestPersistRoundtrip(t *testing.T) {
	t.Parallel()
	log := log2.NewTest(t, log2.LDebug)
	root := t.TempDir()

	var p1 Persist
	s1 := &blob{}
	require.NoError(t, p1.Init("ledger", s1, root, true, log))
	found, err := p1.Load()
	require.NoError(t, err)
	assert.False(t, found)

	s1.b = []byte("2024-05-01")
	require.NoError(t, p1.Store())

	var p2 Persist
	s2 := &blob{}
	require.NoError(t, p2.Init("ledger", s2, root, true, log))
	found, err = p2.Load()
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "2024-05-01", string(s2.b))
}

func TestPersistDisabled(t *testing.T) {
	t.Parallel()
	var p Persist
	require.NoError(t, p.Init("ledger", &blob{}, "", false, log2.NewTest(t, log2.LDebug)))
	assert.False(t, p.Enabled())
	found, err := p.Load()
	assert.NoError(t, err)
	assert.False(t, found)
	assert.NoError(t, p.Store())

	var bad Persist
	assert.Error(t, bad.Init("ledger", &blob{}, "", true, nil))
}
