// Package catalog answers what a seat costs and how many seats a concert
// date has.
package catalog

import (
	"context"
	"errors"
	"strconv"

	"github.com/iliyamo/concert-ticketing/internal/model"
	"github.com/iliyamo/concert-ticketing/internal/repository"
)

// DefaultSeatPrice is the price of every seat, in minor units, when no other
// price is configured.
const DefaultSeatPrice int64 = 80000

// FixedPricing charges the same price for every seat.
type FixedPricing struct {
	Price int64
}

func (p FixedPricing) PriceOf(_ context.Context, _ model.SeatID) (int64, error) {
	if p.Price <= 0 {
		return DefaultSeatPrice, nil
	}
	return p.Price, nil
}

// Schedule is the sale-relevant view of a concert date.
type Schedule struct {
	ID         string
	Date       string
	TotalSeats int
}

// Directory resolves schedules from the database. Dates without a row get a
// schedule keyed by the date itself with the default seat count.
type Directory struct {
	repo         *repository.ScheduleRepo
	defaultSeats int
}

func NewDirectory(repo *repository.ScheduleRepo, defaultSeats int) *Directory {
	return &Directory{repo: repo, defaultSeats: defaultSeats}
}

func (d *Directory) ScheduleOf(ctx context.Context, date string) (Schedule, error) {
	row, err := d.repo.FindByDate(ctx, date)
	if errors.Is(err, repository.ErrNotFound) {
		return Schedule{ID: date, Date: date, TotalSeats: d.defaultSeats}, nil
	}
	if err != nil {
		return Schedule{}, err
	}
	return Schedule{ID: strconv.FormatUint(row.ID, 10), Date: row.ConcertDate, TotalSeats: row.TotalSeats}, nil
}
