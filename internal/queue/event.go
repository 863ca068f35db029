// Package queue carries reservation events over RabbitMQ: the payloads, a
// publisher used after a confirm commits, and a reconnecting consumer loop.
package queue

import (
	"errors"
	"time"
)

// ReservationConfirmedQueue is the durable queue confirmed sales go to.
const ReservationConfirmedQueue = "reservation.confirmed"

// PartitionHeader names the message header carrying the ordering key.
const PartitionHeader = "partition_key"

// ReservationConfirmedEvent is published once a seat sale has committed.
// It carries enough for downstream consumers (rankings, notifications) to
// work without querying the primary database. Delivery is at-least-once, so
// consumers deduplicate on ReservationID.
type ReservationConfirmedEvent struct {
	ReservationID uint64    `json:"reservationId"`
	UserID        string    `json:"userId"`
	ScheduleID    string    `json:"scheduleId"`
	SeatNumber    int       `json:"seatNumber"`
	Price         int64     `json:"price"`
	ConcertDate   string    `json:"concertDate"`
	ConfirmedAt   time.Time `json:"confirmedAt"`
}

// Validate rejects payloads no consumer can act on.
func (e ReservationConfirmedEvent) Validate() error {
	switch {
	case e.ReservationID == 0:
		return errors.New("reservationId is required")
	case e.ScheduleID == "":
		return errors.New("scheduleId is required")
	case e.SeatNumber < 1:
		return errors.New("seatNumber must be positive")
	}
	return nil
}
