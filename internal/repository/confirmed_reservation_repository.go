package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/iliyamo/concert-ticketing/internal/model"
)

// ConfirmedReservationRepo stores sold seats. The (concert_date, seat_no)
// unique index guarantees a seat is sold at most once. Calls made with a ctx
// from WalletRepo.WithTx run inside that transaction.
type ConfirmedReservationRepo struct {
	db *gorm.DB
}

// NewConfirmedReservationRepo returns a new ConfirmedReservationRepo bound to the given database.
func NewConfirmedReservationRepo(db *gorm.DB) *ConfirmedReservationRepo {
	return &ConfirmedReservationRepo{db: db}
}

// Find returns the reservation for seat or ErrNotFound.
func (r *ConfirmedReservationRepo) Find(ctx context.Context, seat model.SeatID) (*model.ConfirmedReservation, error) {
	var row model.ConfirmedReservation
	err := conn(ctx, r.db).
		Where("concert_date = ? AND seat_no = ?", seat.Date(), seat.Number()).
		Take(&row).Error
	if err != nil {
		return nil, wrapError("find confirmed reservation", err)
	}
	return &row, nil
}

// Insert records a sale and fills in its ID. A second sale of the same seat
// returns ErrDuplicate.
func (r *ConfirmedReservationRepo) Insert(ctx context.Context, res *model.ConfirmedReservation) error {
	return wrapError("insert confirmed reservation", conn(ctx, r.db).Create(res).Error)
}

// CountByDate returns how many seats of a concert date are sold.
func (r *ConfirmedReservationRepo) CountByDate(ctx context.Context, date string) (int64, error) {
	var n int64
	err := conn(ctx, r.db).Model(&model.ConfirmedReservation{}).
		Where("concert_date = ?", date).
		Count(&n).Error
	return n, wrapError("count confirmed reservations", err)
}
