// Copyright 2025 James Ross
package publishphase

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTruncateReasonLeavesShortStringsAlone(t *testing.T) {
	require.Equal(t, "boom", truncateReason("boom"))
}

func TestTruncateReasonCapsLength(t *testing.T) {
	long := strings.Repeat("x", 3000)
	require.Len(t, truncateReason(long), 900)
}
