package model

import "time"

// ConfirmedReservation is the permanent record of a sold seat. The unique
// index on (ConcertDate, SeatNo) is the last line against double sale.
//
// Fields:
//  ID             - primary key identifier, also the reservation id in events.
//  ConcertDate    - yyyy-mm-dd of the concert.
//  SeatNo         - seat number within the concert.
//  UserID         - buyer.
//  Price          - amount paid in minor units.
//  IdempotencyKey - key of the confirm request that produced the row.
//  PaidAt         - payment time.
type ConfirmedReservation struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement"`                                  // confirmed_reservations.id
	ConcertDate    string    `gorm:"size:10;not null;uniqueIndex:uq_confirmed_seat,priority:1"` // confirmed_reservations.concert_date
	SeatNo         int       `gorm:"not null;uniqueIndex:uq_confirmed_seat,priority:2"`         // confirmed_reservations.seat_no
	UserID         string    `gorm:"size:64;not null;index:idx_confirmed_user"`                 // confirmed_reservations.user_id
	Price          int64     `gorm:"not null"`                                                  // confirmed_reservations.price
	IdempotencyKey string    `gorm:"size:128;not null"`                                         // confirmed_reservations.idempotency_key
	PaidAt         time.Time `gorm:"not null"`                                                  // confirmed_reservations.paid_at
}

func (ConfirmedReservation) TableName() string { return "confirmed_reservations" }

// SeatID returns the seat the reservation covers.
func (r ConfirmedReservation) SeatID() SeatID {
	return SeatID{date: r.ConcertDate, number: r.SeatNo}
}
