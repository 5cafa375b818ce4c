package textutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMatchName(t *testing.T) {
	require.True(t, MatchName("  Gross\tSales ", []string{"grosssales"}))
	require.False(t, MatchName("Gross", []string{"grosssales"}))
}

func TestContainsAll(t *testing.T) {
	text := "Gross Sales $10.00 Estimated Orders 3 Tips $0.00"
	require.True(t, ContainsAll(text, "Tips", "Gross Sales", "Estimated Orders"))
	require.False(t, ContainsAll("Tips $5.00", "Tips", "Gross Sales"))
	require.True(t, ContainsAll("anything"))
}
