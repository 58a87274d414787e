package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/trainer-marketplace-api/internal/models"
)

// AvailabilityRepository stores the weekly availability grid of trainers.
type AvailabilityRepository struct {
	db *sqlx.DB
}

// NewAvailabilityRepository constructs the repository.
func NewAvailabilityRepository(db *sqlx.DB) *AvailabilityRepository {
	return &AvailabilityRepository{db: db}
}

// ReplaceForTrainer swaps every slot of the trainer for the provided set.
func (r *AvailabilityRepository) ReplaceForTrainer(ctx context.Context, trainerID string, slots []models.TrainerAvailability) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin availability replace: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM trainer_availability WHERE trainer_id = $1`, trainerID); err != nil {
		return fmt.Errorf("clear trainer availability: %w", err)
	}

	now := time.Now().UTC()
	const insertQuery = `INSERT INTO trainer_availability (id, trainer_id, day_of_week, start_time, end_time, is_available, max_students_per_slot, created_at)
VALUES (:id, :trainer_id, :day_of_week, :start_time, :end_time, :is_available, :max_students_per_slot, :created_at)`
	for i := range slots {
		slot := &slots[i]
		if slot.ID == "" {
			slot.ID = uuid.NewString()
		}
		slot.TrainerID = trainerID
		slot.CreatedAt = now
		if _, err = tx.NamedExecContext(ctx, insertQuery, slot); err != nil {
			return fmt.Errorf("insert trainer availability: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit availability replace: %w", err)
	}
	return nil
}

// ListByTrainer returns a trainer's slots ordered Monday through Sunday.
func (r *AvailabilityRepository) ListByTrainer(ctx context.Context, trainerID string) ([]models.TrainerAvailability, error) {
	const query = `SELECT id, trainer_id, day_of_week, start_time, end_time, is_available, max_students_per_slot, created_at
FROM trainer_availability WHERE trainer_id = $1
ORDER BY CASE day_of_week
	WHEN 'monday' THEN 1 WHEN 'tuesday' THEN 2 WHEN 'wednesday' THEN 3 WHEN 'thursday' THEN 4
	WHEN 'friday' THEN 5 WHEN 'saturday' THEN 6 WHEN 'sunday' THEN 7 ELSE 8 END, start_time`
	var slots []models.TrainerAvailability
	if err := r.db.SelectContext(ctx, &slots, query, trainerID); err != nil {
		return nil, fmt.Errorf("list trainer availability: %w", err)
	}
	return slots, nil
}

// ListAvailable returns open slots of active trainers. With a point in time it keeps the slots
// containing it and subtracts demo sessions already booked around it from their capacity.
func (r *AvailabilityRepository) ListAvailable(ctx context.Context, q models.AvailabilityQuery) ([]models.AvailableTrainer, error) {
	var trainers []models.AvailableTrainer
	if q.At == nil {
		const query = `SELECT ta.id, ta.trainer_id, ta.day_of_week, ta.start_time, ta.end_time, ta.is_available,
ta.max_students_per_slot, ta.created_at, u.full_name AS trainer_name, u.email AS trainer_email, u.specialist,
ta.max_students_per_slot AS available_slots
FROM trainer_availability ta
JOIN users u ON u.id = ta.trainer_id AND u.active
WHERE ta.is_available
ORDER BY u.full_name, ta.day_of_week, ta.start_time`
		if err := r.db.SelectContext(ctx, &trainers, query); err != nil {
			return nil, fmt.Errorf("list available trainers: %w", err)
		}
		return trainers, nil
	}

	const query = `SELECT * FROM (
SELECT ta.id, ta.trainer_id, ta.day_of_week, ta.start_time, ta.end_time, ta.is_available,
ta.max_students_per_slot, ta.created_at, u.full_name AS trainer_name, u.email AS trainer_email, u.specialist,
ta.max_students_per_slot - (
	SELECT COUNT(*) FROM demo_sessions ds
	WHERE ds.trainer_id = ta.trainer_id AND ds.scheduled_date_time BETWEEN $3 AND $4 AND ds.status = ANY($5)
) AS available_slots
FROM trainer_availability ta
JOIN users u ON u.id = ta.trainer_id AND u.active
WHERE ta.is_available AND ta.day_of_week = $1 AND ta.start_time <= $2 AND ta.end_time >= $2
) open_slots WHERE available_slots > 0
ORDER BY available_slots DESC, trainer_name`
	if err := r.db.SelectContext(ctx, &trainers, query, q.DayOfWeek, q.Clock, q.WindowStart, q.WindowEnd,
		pq.Array(bookedDemoStatuses())); err != nil {
		return nil, fmt.Errorf("list available trainers at time: %w", err)
	}
	return trainers, nil
}
