package capability

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseRejectsUnknownKeys(t *testing.T) {
	key, err := Parse("custom_branding")
	require.NoError(t, err)
	require.Equal(t, CustomBranding, key)

	_, err = Parse("teleportation")
	require.ErrorIs(t, err, ErrUnknownCapability)

	_, err = Lookup(Key("CUSTOM_BRANDING"))
	require.ErrorIs(t, err, ErrUnknownCapability)
}

func TestAllIsSortedAndComplete(t *testing.T) {
	defs := All()
	require.Len(t, defs, len(registry))
	for i := 1; i < len(defs); i++ {
		require.Less(t, defs[i-1].Key, defs[i].Key)
	}

	def, err := Lookup(MaxGalleries)
	require.NoError(t, err)
	require.Equal(t, KindLimit, def.Kind)
	require.Equal(t, "limit", def.Kind.String())
}
