package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/concert-ticketing/internal/apperr"
)

func TestNewSeatID(t *testing.T) {
	seat, err := NewSeatID("2025-06-01", 12)
	require.NoError(t, err)
	assert.Equal(t, "2025-06-01", seat.Date())
	assert.Equal(t, 12, seat.Number())
	assert.Equal(t, "2025-06-01:12", seat.String())
	assert.False(t, seat.IsZero())
}

func TestNewSeatIDRejectsBadInput(t *testing.T) {
	cases := []struct {
		name   string
		date   string
		number string
	}{
		{"bad date", "2025-13-01", "1"},
		{"wrong layout", "01/06/2025", "1"},
		{"zero seat", "2025-06-01", "0"},
		{"negative seat", "2025-06-01", "-3"},
		{"not a number", "2025-06-01", "A1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseSeatID(tc.date, tc.number)
			assert.ErrorIs(t, err, apperr.ErrInvalidSeat)
		})
	}
}

func TestCanTransition(t *testing.T) {
	allowed := map[[2]TokenStatus]bool{
		{TokenWaiting, TokenActive}:  true,
		{TokenWaiting, TokenExpired}: true,
		{TokenActive, TokenExpired}:  true,
		{TokenActive, TokenUsed}:     true,
	}
	all := []TokenStatus{TokenWaiting, TokenActive, TokenExpired, TokenUsed}
	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, allowed[[2]TokenStatus{from, to}], CanTransition(from, to), "%s -> %s", from, to)
		}
	}
	assert.True(t, TokenUsed.Terminal())
	assert.True(t, TokenExpired.Terminal())
	assert.False(t, TokenActive.Terminal())
}

func TestParseConcertDate(t *testing.T) {
	date, err := ParseConcertDate(" 2025-06-01 ")
	require.NoError(t, err)
	assert.Equal(t, "2025-06-01", date)

	_, err = ParseConcertDate("2025-02-30")
	assert.ErrorIs(t, err, apperr.ErrInvalidSeat)
}
