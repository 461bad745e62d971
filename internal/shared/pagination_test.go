package shared

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPageOf(t *testing.T) {
	p := PageOf(2, 20, 45)
	require.Equal(t, 2, p.Number)
	require.Equal(t, 20, p.Size)
	require.Equal(t, 45, p.TotalItems)
	require.Equal(t, 3, p.TotalPages)

	p = PageOf(1, 10, 30)
	require.Equal(t, 3, p.TotalPages)

	p = PageOf(0, 0, 5)
	require.Equal(t, 1, p.Number)
	require.Equal(t, 20, p.Size)
	require.Equal(t, 1, p.TotalPages)

	p = PageOf(1, 20, 0)
	require.Equal(t, 0, p.TotalPages)
}
