package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/iliyamo/concert-ticketing/internal/model"
)

// ScheduleRepo reads and seeds concert schedules.
type ScheduleRepo struct {
	db *gorm.DB
}

// NewScheduleRepo returns a new ScheduleRepo bound to the given database.
func NewScheduleRepo(db *gorm.DB) *ScheduleRepo { return &ScheduleRepo{db: db} }

// FindByDate returns the schedule of a concert date or ErrNotFound.
func (r *ScheduleRepo) FindByDate(ctx context.Context, date string) (*model.ConcertSchedule, error) {
	var row model.ConcertSchedule
	if err := r.db.WithContext(ctx).Where("concert_date = ?", date).Take(&row).Error; err != nil {
		return nil, wrapError("find schedule", err)
	}
	return &row, nil
}

// Upsert creates the schedule for its date or updates title and seat count.
func (r *ScheduleRepo) Upsert(ctx context.Context, s *model.ConcertSchedule) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "concert_date"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "total_seats"}),
	}).Create(s).Error
	return wrapError("upsert schedule", err)
}
