package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/trainer-marketplace-api/internal/dto"
	"github.com/noah-isme/trainer-marketplace-api/internal/models"
	appErrors "github.com/noah-isme/trainer-marketplace-api/pkg/errors"
)

type availabilityRepository interface {
	ReplaceForTrainer(ctx context.Context, trainerID string, slots []models.TrainerAvailability) error
	ListByTrainer(ctx context.Context, trainerID string) ([]models.TrainerAvailability, error)
	ListAvailable(ctx context.Context, q models.AvailabilityQuery) ([]models.AvailableTrainer, error)
}

// AvailabilityService maintains the weekly windows trainers advertise.
type AvailabilityService struct {
	repo      availabilityRepository
	users     userReader
	clock     SlotClock
	validator *validator.Validate
	logger    *zap.Logger
}

// NewAvailabilityService constructs AvailabilityService.
func NewAvailabilityService(repo availabilityRepository, users userReader, clock SlotClock, validate *validator.Validate, logger *zap.Logger) *AvailabilityService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AvailabilityService{repo: repo, users: users, clock: clock, validator: validate, logger: logger}
}

// Set replaces every slot of a trainer.
func (s *AvailabilityService) Set(ctx context.Context, actor models.Actor, trainerID string, req dto.SetAvailabilityRequest) ([]models.TrainerAvailability, error) {
	if !actor.IsAdmin() && actor.UserID != trainerID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "cannot change another trainer's availability")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid availability payload")
	}
	if _, err := s.users.FindByIDAndRole(ctx, trainerID, models.RoleTrainer); err != nil {
		return nil, translateLookupError(err, "trainer not found", "failed to load trainer")
	}

	slots := make([]models.TrainerAvailability, 0, len(req.Slots))
	for _, in := range req.Slots {
		if in.EndTime <= in.StartTime {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s slot must end after it starts", in.DayOfWeek))
		}
		available := true
		if in.IsAvailable != nil {
			available = *in.IsAvailable
		}
		maxStudents := in.MaxStudentsPerSlot
		if maxStudents == 0 {
			maxStudents = 1
		}
		slots = append(slots, models.TrainerAvailability{
			TrainerID:          trainerID,
			DayOfWeek:          in.DayOfWeek,
			StartTime:          in.StartTime,
			EndTime:            in.EndTime,
			IsAvailable:        available,
			MaxStudentsPerSlot: maxStudents,
		})
	}
	if err := rejectOverlaps(slots); err != nil {
		return nil, err
	}

	if err := s.repo.ReplaceForTrainer(ctx, trainerID, slots); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save availability")
	}
	s.logger.Info("availability replaced", zap.String("trainer_id", trainerID), zap.Int("slots", len(slots)))
	return s.Get(ctx, trainerID)
}

// Get lists a trainer's slots ordered Monday through Sunday.
func (s *AvailabilityService) Get(ctx context.Context, trainerID string) ([]models.TrainerAvailability, error) {
	slots, err := s.repo.ListByTrainer(ctx, trainerID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load availability")
	}
	if slots == nil {
		slots = []models.TrainerAvailability{}
	}
	return slots, nil
}

// AvailableTrainers lists open slots. With a date time only slots containing it are kept, each
// with the capacity left after demo sessions booked around that instant.
func (s *AvailabilityService) AvailableTrainers(ctx context.Context, rawDateTime string) ([]models.AvailableTrainer, error) {
	var q models.AvailabilityQuery
	if rawDateTime != "" {
		at, ok := s.clock.Parse(rawDateTime)
		if !ok {
			return nil, appErrors.Clone(appErrors.ErrValidation, "invalid dateTime format")
		}
		q = s.clock.Query(at)
	}
	trainers, err := s.repo.ListAvailable(ctx, q)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load available trainers")
	}
	if trainers == nil {
		trainers = []models.AvailableTrainer{}
	}
	return trainers, nil
}

func rejectOverlaps(slots []models.TrainerAvailability) error {
	byDay := make(map[string][]models.TrainerAvailability)
	for _, slot := range slots {
		byDay[slot.DayOfWeek] = append(byDay[slot.DayOfWeek], slot)
	}
	for day, daySlots := range byDay {
		sort.Slice(daySlots, func(i, j int) bool { return daySlots[i].StartTime < daySlots[j].StartTime })
		for i := 1; i < len(daySlots); i++ {
			if daySlots[i].StartTime < daySlots[i-1].EndTime {
				return appErrors.Clone(appErrors.ErrValidation,
					fmt.Sprintf("%s slots %s-%s and %s-%s overlap", day,
						daySlots[i-1].StartTime, daySlots[i-1].EndTime, daySlots[i].StartTime, daySlots[i].EndTime))
			}
		}
	}
	return nil
}
