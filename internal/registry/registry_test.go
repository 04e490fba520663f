package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltin(t *testing.T) {
	reg := Builtin()
	assert.Greater(t, reg.Len(), 50)

	f, ok := reg.Get("1174610")
	require.True(t, ok)
	assert.Equal(t, "ProShares Trust", f.Name)
	assert.Empty(t, f.ForceStrategy)
}

func TestLoadMissingFileUsesBuiltin(t *testing.T) {
	reg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Builtin().Len(), reg.Len())
}

func TestLoadOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "filers.yaml")
	content := `
filers:
  - cik: "9999999"
    name: "Example ETF Trust"
  - cik: "1174610"
    force_strategy: header_only
  - cik: "0001424958"
    name: "Direxion Shares ETF Trust (renamed)"
remove:
  - "1067839"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	reg, err := Load(path)
	require.NoError(t, err)

	added, ok := reg.Get("9999999")
	require.True(t, ok)
	assert.Equal(t, "Example ETF Trust", added.Name)

	forced, ok := reg.Get("1174610")
	require.True(t, ok)
	assert.Equal(t, "ProShares Trust", forced.Name)
	assert.Equal(t, "header_only", forced.ForceStrategy)

	// Padded CIKs in the file resolve to the canonical key.
	renamed, ok := reg.Get("1424958")
	require.True(t, ok)
	assert.Equal(t, "Direxion Shares ETF Trust (renamed)", renamed.Name)

	_, ok = reg.Get("1067839")
	assert.False(t, ok)
}

func TestLoadRejectsNewFilerWithoutName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "filers.yaml")
	require.NoError(t, os.WriteFile(path, []byte("filers:\n  - cik: \"123\"\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "needs a name")
}

func TestActType(t *testing.T) {
	assert.Equal(t, "33", ActType("1588489"))
	assert.Equal(t, "33", ActType("0001588489"))
	assert.Equal(t, "40", ActType("1174610"))
	assert.Equal(t, "40", ActType("unknown"))
}

func TestCIKHelpers(t *testing.T) {
	assert.Equal(t, "1174610", NormalizeCIK(" 0001174610 "))
	assert.Equal(t, "0001174610", PaddedCIK("1174610"))
	assert.Equal(t, "0000052848", PaddedCIK("52848"))
}
