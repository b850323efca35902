package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/Amineeeeee523/khalilos/internal/models"
)

type mockSchedulerRepo struct {
	mock.Mock
}

func (m *mockSchedulerRepo) ListByStatus(ctx context.Context, status string) ([]models.Milestone, error) {
	args := m.Called(ctx, status)
	return args.Get(0).([]models.Milestone), args.Error(1)
}

func (m *mockSchedulerRepo) ListStaleDeposits(ctx context.Context, before time.Time) ([]models.Milestone, error) {
	args := m.Called(ctx, before)
	return args.Get(0).([]models.Milestone), args.Error(1)
}

func TestScheduler_RetryFailedCaptures(t *testing.T) {
	repo := new(mockSchedulerRepo)
	pipeline := new(mockPipeline)
	s := NewScheduler(repo, pipeline, 0, 0, 0)
	ctx := context.Background()

	failed := uuid.New()
	stuck := uuid.New()
	repo.On("ListByStatus", ctx, models.MilestoneStatusCaptureError).Return([]models.Milestone{
		{ID: failed, Status: models.MilestoneStatusCaptureError},
	}, nil)
	// Зависший approved: сигнал capture потерян, sweep его переоткрывает.
	repo.On("ListByStatus", ctx, models.MilestoneStatusApproved).Return([]models.Milestone{
		{ID: stuck, Status: models.MilestoneStatusApproved},
	}, nil)
	pipeline.On("Enqueue", failed).Return()
	pipeline.On("Enqueue", stuck).Return()

	err := s.retryFailedCaptures(ctx)
	assert.NoError(t, err)
	pipeline.AssertExpectations(t)
}

func TestScheduler_RetryFailedCaptures_Empty(t *testing.T) {
	repo := new(mockSchedulerRepo)
	pipeline := new(mockPipeline)
	s := NewScheduler(repo, pipeline, 0, 0, 0)
	ctx := context.Background()

	repo.On("ListByStatus", ctx, mock.AnythingOfType("string")).
		Return([]models.Milestone{}, nil)

	err := s.retryFailedCaptures(ctx)
	assert.NoError(t, err)
	pipeline.AssertNotCalled(t, "Enqueue")
}

func TestScheduler_CheckTimeouts_LogsOnly(t *testing.T) {
	repo := new(mockSchedulerRepo)
	pipeline := new(mockPipeline)
	s := NewScheduler(repo, pipeline, 0, 0, 0)
	ctx := context.Background()

	deposited := time.Now().Add(-8 * 24 * time.Hour)
	repo.On("ListStaleDeposits", ctx, mock.AnythingOfType("time.Time")).Return([]models.Milestone{
		{ID: uuid.New(), Status: models.MilestoneStatusPendingPayment, DepositedAt: &deposited},
	}, nil)

	// Зависшие транши только отмечаются в логах, состояние не трогаем.
	err := s.checkTimeouts(ctx)
	assert.NoError(t, err)
	pipeline.AssertNotCalled(t, "Enqueue")
}

func TestScheduler_Defaults(t *testing.T) {
	s := NewScheduler(new(mockSchedulerRepo), new(mockPipeline), 0, 0, 0)

	assert.Equal(t, 30*time.Minute, s.retryInterval)
	assert.Equal(t, 24*time.Hour, s.sweepInterval)
	assert.Equal(t, 7*24*time.Hour, s.staleAfter)
}
