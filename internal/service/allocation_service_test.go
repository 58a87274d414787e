package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/trainer-marketplace-api/internal/dto"
	"github.com/noah-isme/trainer-marketplace-api/internal/models"
	"github.com/noah-isme/trainer-marketplace-api/internal/repository"
	appErrors "github.com/noah-isme/trainer-marketplace-api/pkg/errors"
	"github.com/noah-isme/trainer-marketplace-api/pkg/meeting"
)

const (
	trainerID = "11111111-1111-1111-1111-111111111111"
	studentID = "22222222-2222-2222-2222-222222222222"
	courseID  = "33333333-3333-3333-3333-333333333333"
)

type fakeUsers struct {
	users map[string]*models.User
}

func (f *fakeUsers) FindByIDAndRole(ctx context.Context, id string, role models.UserRole) (*models.User, error) {
	if u, ok := f.users[id]; ok && u.Role == role {
		return u, nil
	}
	return nil, sql.ErrNoRows
}

func (f *fakeUsers) FindByID(ctx context.Context, id string) (*models.User, error) {
	if u, ok := f.users[id]; ok {
		return u, nil
	}
	return nil, sql.ErrNoRows
}

type fakeActiveEnrollments struct {
	triples map[string]bool
}

func tripleKey(studentID, courseID, trainerID string) string {
	return studentID + "/" + courseID + "/" + trainerID
}

func (f *fakeActiveEnrollments) FindActiveByTriple(ctx context.Context, studentID, courseID, trainerID string) (*models.Enrollment, error) {
	if f.triples[tripleKey(studentID, courseID, trainerID)] {
		return &models.Enrollment{ID: "enr-1", StudentID: studentID, CourseID: courseID, TrainerID: &trainerID, Status: models.EnrollmentStatusTrainerAssigned}, nil
	}
	return nil, sql.ErrNoRows
}

// memorySlots mirrors the allocation transaction against in-memory state.
type memorySlots struct {
	mu         sync.Mutex
	schedules  map[string]*models.ClassSchedule
	classes    map[string]*models.Class
	conflicts  int
	meetings   map[string]string
	failWith   error
	allocCalls int
}

func newMemorySlots() *memorySlots {
	return &memorySlots{
		schedules: make(map[string]*models.ClassSchedule),
		classes:   make(map[string]*models.Class),
		meetings:  make(map[string]string),
	}
}

func (m *memorySlots) AllocateSlot(ctx context.Context, p models.AllocationParams) (*models.AllocationResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allocCalls++
	if m.failWith != nil {
		return nil, m.failWith
	}
	if m.conflicts > 0 {
		m.conflicts--
		return nil, &pq.Error{Code: "23505"}
	}

	var held []int
	for _, s := range m.schedules {
		if s.EnrollmentID == p.EnrollmentID && s.Status.CountsTowardCap() {
			held = append(held, s.ClassOrder)
		}
	}
	if len(held) >= p.TotalClasses {
		return nil, &repository.AllocationLimitError{Scheduled: len(held), Total: p.TotalClasses}
	}
	sort.Ints(held)
	order := 1
	for _, h := range held {
		if h == order {
			order++
		}
	}

	key := fmt.Sprintf("%s#%d", p.CourseID, order)
	outcome := models.ClassSlotReused
	class, ok := m.classes[key]
	if !ok {
		title := p.Meta.Title
		if title == "" {
			title = fmt.Sprintf("Class %d - %s", order, p.CourseTitle)
		}
		class = &models.Class{ID: uuid.NewString(), CourseID: p.CourseID, Order: order, Title: title, IsDynamic: true, Duration: p.Meta.Duration}
		m.classes[key] = class
		outcome = models.ClassSlotCreated
	} else if p.Meta.Title != "" {
		class.Title = p.Meta.Title
	}

	schedule := &models.ClassSchedule{
		ID: uuid.NewString(), EnrollmentID: p.EnrollmentID, TrainerID: p.TrainerID, StudentID: p.StudentID, ClassID: class.ID, CourseID: p.CourseID,
		ClassOrder: order, ScheduledDate: p.ScheduledDate, ScheduledTime: p.ScheduledTime, Status: models.ScheduleStatusScheduled,
	}
	m.schedules[schedule.ID] = schedule
	return &models.AllocationResult{Schedule: *schedule, Class: *class, ClassOutcome: outcome, ScheduledCount: len(held) + 1}, nil
}

func (m *memorySlots) SetMeeting(ctx context.Context, id, link, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.meetings[id] = link
	return nil
}

func (m *memorySlots) setStatus(id string, status models.ScheduleStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedules[id].Status = status
}

func (m *memorySlots) CountsForEnrollment(ctx context.Context, enrollmentID string) (models.ScheduleCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var counts models.ScheduleCounts
	for _, s := range m.schedules {
		if s.EnrollmentID != enrollmentID || !s.Status.CountsTowardCap() {
			continue
		}
		counts.Scheduled++
		if s.Status == models.ScheduleStatusCompleted {
			counts.Completed++
		}
	}
	return counts, nil
}

// release cancels the pending rows of an enrollment the way EnrollmentRepository.Cancel does.
func (m *memorySlots) release(enrollmentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.schedules {
		if s.EnrollmentID != enrollmentID {
			continue
		}
		if s.Status == models.ScheduleStatusScheduled || s.Status == models.ScheduleStatusRescheduled {
			s.Status = models.ScheduleStatusCancelled
		}
	}
}

func (m *memorySlots) live(studentID, courseID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.schedules {
		if s.StudentID == studentID && s.CourseID == courseID && s.Status.CountsTowardCap() {
			n++
		}
	}
	return n
}

type fakeProvisioner struct {
	mu    sync.Mutex
	err   error
	calls int
	delay time.Duration
}

func (f *fakeProvisioner) CreateMeeting(ctx context.Context, req meeting.Request) (*meeting.Meeting, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &meeting.Meeting{Link: "https://meet.google.com/abc-defg-hij", EventID: "evt-" + req.Date}, nil
}

type allocationFixture struct {
	svc         *AllocationService
	slots       *memorySlots
	provisioner *fakeProvisioner
	enrollments *fakeActiveEnrollments
	cache       *memoryCache
	registry    *fakeRegistry
}

func newAllocationFixture(totalClasses int) *allocationFixture {
	users := &fakeUsers{users: map[string]*models.User{
		trainerID: {ID: trainerID, FullName: "Tara", Email: "tara@example.com", Role: models.RoleTrainer},
		studentID: {ID: studentID, FullName: "Sam", Email: "sam@example.com", Role: models.RoleStudent},
	}}
	courses := &fakeCourses{courses: map[string]*models.Course{courseID: {ID: courseID, Title: "Go Basics", TotalClasses: totalClasses}}}
	enrollments := &fakeActiveEnrollments{triples: map[string]bool{tripleKey(studentID, courseID, trainerID): true}}
	slots := newMemorySlots()
	provisioner := &fakeProvisioner{}
	cache := newMemoryCache()
	registry := newFakeRegistry()
	svc := NewAllocationService(users, courses, enrollments, slots, provisioner,
		NewCacheService(cache, nil, 0, nil, true), NewNotificationService(registry, nil, nil), NewMetricsService(), nil, nil,
		AllocationConfig{MaxBatchSize: 10, ConflictRetries: 2, MeetingTimeout: 50 * time.Millisecond})
	return &allocationFixture{svc: svc, slots: slots, provisioner: provisioner, enrollments: enrollments, cache: cache, registry: registry}
}

func allocationRequest(date string) dto.AllocateClassRequest {
	return dto.AllocateClassRequest{StudentID: studentID, CourseID: courseID, ScheduledDate: date, ScheduledTime: "10:00"}
}

func TestAllocateClassCapBoundary(t *testing.T) {
	fx := newAllocationFixture(2)
	ctx := context.Background()

	first, err := fx.svc.AllocateClass(ctx, trainerID, allocationRequest("2026-11-02"))
	require.NoError(t, err)
	assert.Equal(t, 1, first.Schedule.ClassOrder)
	assert.Equal(t, models.ClassSlotCreated, first.ClassOutcome)
	assert.Equal(t, "Class 1 - Go Basics", first.Class.Title)
	require.NotNil(t, first.MeetLink)

	second, err := fx.svc.AllocateClass(ctx, trainerID, allocationRequest("2026-11-04"))
	require.NoError(t, err)
	assert.Equal(t, 2, second.Schedule.ClassOrder)
	assert.Equal(t, 2, second.ScheduledCount)

	_, err = fx.svc.AllocateClass(ctx, trainerID, allocationRequest("2026-11-06"))
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrAllocationLimit.Code, appErr.Code)
	assert.Equal(t, 2, appErr.Details["scheduled"])
	assert.Equal(t, 2, appErr.Details["total"])
	assert.Equal(t, 2, fx.slots.live(studentID, courseID))
}

func TestAllocateClassReusesCancelledOrdinal(t *testing.T) {
	fx := newAllocationFixture(2)
	ctx := context.Background()

	first, err := fx.svc.AllocateClass(ctx, trainerID, allocationRequest("2026-11-02"))
	require.NoError(t, err)
	_, err = fx.svc.AllocateClass(ctx, trainerID, allocationRequest("2026-11-04"))
	require.NoError(t, err)

	fx.slots.setStatus(first.Schedule.ID, models.ScheduleStatusCancelled)

	again, err := fx.svc.AllocateClass(ctx, trainerID, allocationRequest("2026-11-09"))
	require.NoError(t, err)
	assert.Equal(t, 1, again.Schedule.ClassOrder)
	assert.Equal(t, first.Class.ID, again.Class.ID)
	assert.Equal(t, models.ClassSlotReused, again.ClassOutcome)
}

func TestAllocateClassRequiresEnrollmentWithTrainer(t *testing.T) {
	fx := newAllocationFixture(2)
	fx.enrollments.triples = map[string]bool{}

	_, err := fx.svc.AllocateClass(context.Background(), trainerID, allocationRequest("2026-11-02"))
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
	assert.Equal(t, "not enrolled with this trainer", appErrors.FromError(err).Message)
	assert.Zero(t, fx.slots.allocCalls)
}

func TestAllocateClassNotFound(t *testing.T) {
	fx := newAllocationFixture(2)

	_, err := fx.svc.AllocateClass(context.Background(), "44444444-4444-4444-4444-444444444444", allocationRequest("2026-11-02"))
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	req := allocationRequest("2026-11-02")
	req.CourseID = "55555555-5555-5555-5555-555555555555"
	_, err = fx.svc.AllocateClass(context.Background(), trainerID, req)
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestAllocateClassValidatesPayload(t *testing.T) {
	fx := newAllocationFixture(2)
	req := allocationRequest("02/11/2026")

	_, err := fx.svc.AllocateClass(context.Background(), trainerID, req)
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestAllocateClassSurvivesMeetingFailure(t *testing.T) {
	fx := newAllocationFixture(2)
	fx.provisioner.err = errors.New("calendar unavailable")

	res, err := fx.svc.AllocateClass(context.Background(), trainerID, allocationRequest("2026-11-02"))
	require.NoError(t, err)
	assert.Nil(t, res.MeetLink)
	assert.Empty(t, fx.slots.meetings)
}

func TestAllocateClassBoundsMeetingLatency(t *testing.T) {
	fx := newAllocationFixture(2)
	fx.provisioner.delay = time.Second

	start := time.Now()
	res, err := fx.svc.AllocateClass(context.Background(), trainerID, allocationRequest("2026-11-02"))
	require.NoError(t, err)
	assert.Nil(t, res.MeetLink)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestAllocateClassRetriesOrdinalConflicts(t *testing.T) {
	fx := newAllocationFixture(2)
	fx.slots.conflicts = 2

	res, err := fx.svc.AllocateClass(context.Background(), trainerID, allocationRequest("2026-11-02"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Schedule.ClassOrder)
	assert.Equal(t, 3, fx.slots.allocCalls)
}

func TestAllocateClassGivesUpAfterRetries(t *testing.T) {
	fx := newAllocationFixture(2)
	fx.slots.conflicts = 5

	_, err := fx.svc.AllocateClass(context.Background(), trainerID, allocationRequest("2026-11-02"))
	assert.ErrorIs(t, err, appErrors.ErrConflict)
	assert.Equal(t, 3, fx.slots.allocCalls)
}

func TestAllocateClassInvalidatesProgressAndNotifies(t *testing.T) {
	fx := newAllocationFixture(2)
	fx.cache.data[StudentProgressKey(studentID)] = []byte(`[]`)

	_, err := fx.svc.AllocateClass(context.Background(), trainerID, allocationRequest("2026-11-02"))
	require.NoError(t, err)
	assert.NotContains(t, fx.cache.data, StudentProgressKey(studentID))
	assert.Len(t, fx.registry.sent[studentID], 1)
}

// Exercises the retry and cap handling of the service against a store that serializes
// allocations itself. Atomicity of the SQL transaction is covered in the repository tests.
func TestAllocateClassServiceHonoursCapUnderConcurrentCalls(t *testing.T) {
	fx := newAllocationFixture(3)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := fx.svc.AllocateClass(context.Background(), trainerID, allocationRequest(fmt.Sprintf("2026-11-%02d", i+1)))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	succeeded, limited := 0, 0
	for err := range errs {
		if err == nil {
			succeeded++
		} else if errors.Is(err, appErrors.ErrAllocationLimit) {
			limited++
		}
	}
	assert.Equal(t, 3, succeeded)
	assert.Equal(t, 7, limited)
	assert.Equal(t, 3, fx.slots.live(studentID, courseID))
}

func TestBulkAllocateCollectsItemFailures(t *testing.T) {
	fx := newAllocationFixture(5)
	req := dto.BulkAllocateRequest{Allocations: []dto.AllocateClassRequest{
		allocationRequest("2026-11-02"),
		allocationRequest("2026-11-03"),
		{StudentID: "66666666-6666-6666-6666-666666666666", CourseID: courseID, ScheduledDate: "2026-11-04", ScheduledTime: "10:00"},
		allocationRequest("2026-11-05"),
		allocationRequest("2026-11-06"),
	}}

	res, err := fx.svc.BulkAllocate(context.Background(), trainerID, req)
	require.NoError(t, err)
	assert.Equal(t, 4, res.SuccessCount)
	assert.Equal(t, 1, res.FailureCount)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, 2, res.Failed[0].Index)
	assert.Equal(t, appErrors.ErrNotFound.Code, res.Failed[0].Code)
	assert.Equal(t, []int{1, 2, 3, 4}, []int{res.Successful[0].ClassOrder, res.Successful[1].ClassOrder, res.Successful[2].ClassOrder, res.Successful[3].ClassOrder})
}

func TestBulkAllocateSeesEarlierItemsOfSameBatch(t *testing.T) {
	fx := newAllocationFixture(2)
	req := dto.BulkAllocateRequest{Allocations: []dto.AllocateClassRequest{
		allocationRequest("2026-11-02"),
		allocationRequest("2026-11-03"),
		allocationRequest("2026-11-04"),
		{StudentID: studentID},
	}}

	res, err := fx.svc.BulkAllocate(context.Background(), trainerID, req)
	require.NoError(t, err)
	assert.Equal(t, 2, res.SuccessCount)
	require.Len(t, res.Failed, 2)
	assert.Equal(t, appErrors.ErrAllocationLimit.Code, res.Failed[0].Code)
	assert.Equal(t, appErrors.ErrValidation.Code, res.Failed[1].Code)
	assert.Contains(t, res.Failed[1].Reason, "CourseID")
}

func TestBulkAllocateRejectsMalformedBatch(t *testing.T) {
	fx := newAllocationFixture(2)

	_, err := fx.svc.BulkAllocate(context.Background(), trainerID, dto.BulkAllocateRequest{})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	tooMany := make([]dto.AllocateClassRequest, 11)
	_, err = fx.svc.BulkAllocate(context.Background(), trainerID, dto.BulkAllocateRequest{Allocations: tooMany})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = fx.svc.BulkAllocate(context.Background(), studentID, dto.BulkAllocateRequest{Allocations: []dto.AllocateClassRequest{allocationRequest("2026-11-02")}})
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}
