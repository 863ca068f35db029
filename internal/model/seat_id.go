package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/iliyamo/concert-ticketing/internal/apperr"
)

// DateLayout is the wire and key format of a concert date.
const DateLayout = "2006-01-02"

// SeatID identifies one seat of one concert date. The zero value is invalid;
// build it with NewSeatID or ParseSeatID.
type SeatID struct {
	date   string
	number int
}

// ParseConcertDate trims date and checks it is a YYYY-MM-DD calendar day.
func ParseConcertDate(date string) (string, error) {
	date = strings.TrimSpace(date)
	if _, err := time.Parse(DateLayout, date); err != nil {
		return "", fmt.Errorf("concert date %q: %w", date, apperr.ErrInvalidSeat)
	}
	return date, nil
}

// NewSeatID validates the date and the seat number. Seat numbers start at 1.
func NewSeatID(date string, number int) (SeatID, error) {
	date, err := ParseConcertDate(date)
	if err != nil {
		return SeatID{}, err
	}
	if number < 1 {
		return SeatID{}, fmt.Errorf("seat number %d: %w", number, apperr.ErrInvalidSeat)
	}
	return SeatID{date: date, number: number}, nil
}

// ParseSeatID is NewSeatID for path parameters.
func ParseSeatID(date, number string) (SeatID, error) {
	n, err := strconv.Atoi(strings.TrimSpace(number))
	if err != nil {
		return SeatID{}, fmt.Errorf("seat number %q: %w", number, apperr.ErrInvalidSeat)
	}
	return NewSeatID(date, n)
}

func (s SeatID) Date() string { return s.date }

func (s SeatID) Number() int { return s.number }

// IsZero reports whether s was never initialised.
func (s SeatID) IsZero() bool { return s.date == "" }

// String renders the seat as "date:number", the suffix used by every seat key.
func (s SeatID) String() string {
	return s.date + ":" + strconv.Itoa(s.number)
}
