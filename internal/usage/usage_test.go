// Copyright 2025 James Ross
package usage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMonthKeyIsStableWithinFixedTimezone(t *testing.T) {
	c := New(nil, nil, "Europe/Istanbul")
	loc, err := time.LoadLocation("Europe/Istanbul")
	require.NoError(t, err)

	// 23:30 UTC on the last day of March in Istanbul (UTC+3) is already
	// 02:30 the next morning, April — the month key must follow the
	// local clock, not UTC.
	utcMoment := time.Date(2026, time.March, 31, 23, 30, 0, 0, time.UTC)
	require.Equal(t, "2026-04", c.MonthKey(utcMoment))

	local := time.Date(2026, time.March, 31, 12, 0, 0, 0, loc)
	require.Equal(t, "2026-03", c.MonthKey(local))
}

func TestNewFallsBackToUTCOnBadTimezone(t *testing.T) {
	c := New(nil, nil, "Not/ARealZone")
	require.Equal(t, time.UTC, c.loc)
}
