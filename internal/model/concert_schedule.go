package model

// ConcertSchedule describes one concert date on sale.
type ConcertSchedule struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement"`                               // concert_schedules.id
	ConcertDate string `gorm:"size:10;not null;uniqueIndex:uq_concert_schedules_date"` // concert_schedules.concert_date
	Title       string `gorm:"size:255"`                                               // concert_schedules.title
	TotalSeats  int    `gorm:"not null"`                                               // concert_schedules.total_seats
}

func (ConcertSchedule) TableName() string { return "concert_schedules" }
