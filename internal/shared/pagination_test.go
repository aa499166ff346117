package shared

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewPagination(t *testing.T) {
	p := NewPagination(0, 0, 45)
	require.Equal(t, Pagination{Page: 1, PerPage: 20, Total: 45, TotalPages: 3}, p)
	require.Zero(t, p.Offset())

	p = NewPagination(3, 500, 250)
	require.Equal(t, MaxPerPage, p.PerPage)
	require.Equal(t, 3, p.TotalPages)
	require.Equal(t, 200, p.Offset())
}
