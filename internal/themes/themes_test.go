package themes

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultRegistry(t *testing.T) {
	t.Parallel()

	r := Default()

	theme, ok := r.Get("36")
	require.True(t, ok)
	require.Equal(t, "亚洲无码", theme.Name)

	require.Equal(t, "国产原创", r.Name("2"))
	require.Equal(t, "韩国主播", r.Name("152"))
	require.Equal(t, "论坛999", r.Name("999"), "unknown forums get a generic name")

	ids := r.IDs()
	require.Len(t, ids, 7)
	require.Contains(t, ids, "103")
}

func TestFromMap(t *testing.T) {
	t.Parallel()

	r := FromMap(map[string]string{"36": "Custom A", "7": "Custom B"})
	require.Equal(t, "Custom A", r.Name("36"))
	require.Equal(t, "Custom B", r.Name("7"))
	require.Len(t, r.IDs(), 2)

	require.Equal(t, "亚洲无码", FromMap(nil).Name("36"), "empty override keeps the defaults")
}
