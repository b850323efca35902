package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/Amineeeeee523/khalilos/internal/models"
)

type mockCaptureRepo struct {
	mock.Mock
}

func (m *mockCaptureRepo) GetMilestone(ctx context.Context, id uuid.UUID) (*models.Milestone, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Milestone), args.Error(1)
}

func (m *mockCaptureRepo) MarkPaid(ctx context.Context, id uuid.UUID) (*models.Milestone, bool, bool, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Bool(2), args.Error(3)
	}
	return args.Get(0).(*models.Milestone), args.Bool(1), args.Bool(2), args.Error(3)
}

func (m *mockCaptureRepo) MarkCaptureFailed(ctx context.Context, id uuid.UUID, detail string) (*models.Milestone, error) {
	args := m.Called(ctx, id, detail)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Milestone), args.Error(1)
}

func captureFixture() (*mockCaptureRepo, *mockGateway, *mockNotifier, *CaptureService) {
	repo := new(mockCaptureRepo)
	gw := new(mockGateway)
	notifier := new(mockNotifier)
	svc := NewCaptureService(repo, gw, notifier, 8)
	return repo, gw, notifier, svc
}

func checkoutRef(id string) *string { return &id }

func TestCaptureService_Process_AlreadyPaidIsNoop(t *testing.T) {
	repo, gw, _, svc := captureFixture()
	ctx := context.Background()
	id := uuid.New()

	repo.On("GetMilestone", ctx, id).Return(&models.Milestone{
		ID:     id,
		Status: models.MilestoneStatusPaid,
	}, nil)

	err := svc.Process(ctx, id)
	assert.NoError(t, err)
	gw.AssertNotCalled(t, "Transfer")
	repo.AssertNotCalled(t, "MarkPaid")
}

func TestCaptureService_Process_StaleTriggerIsNoop(t *testing.T) {
	repo, gw, _, svc := captureFixture()
	ctx := context.Background()
	id := uuid.New()

	// Сигнал пришёл, но транш ещё не принят клиентом.
	repo.On("GetMilestone", ctx, id).Return(&models.Milestone{
		ID:     id,
		Status: models.MilestoneStatusFundsHeld,
	}, nil)

	err := svc.Process(ctx, id)
	assert.NoError(t, err)
	gw.AssertNotCalled(t, "Transfer")
}

func TestCaptureService_Process_MissingCheckout(t *testing.T) {
	repo, gw, _, svc := captureFixture()
	ctx := context.Background()
	id := uuid.New()

	repo.On("GetMilestone", ctx, id).Return(&models.Milestone{
		ID:     id,
		Status: models.MilestoneStatusApproved,
	}, nil)
	repo.On("MarkCaptureFailed", ctx, id, mock.AnythingOfType("string")).
		Return(&models.Milestone{ID: id, Status: models.MilestoneStatusCaptureError}, nil)

	err := svc.Process(ctx, id)
	assert.NoError(t, err)
	gw.AssertNotCalled(t, "Transfer")
	repo.AssertExpectations(t)
}

func TestCaptureService_Process_TransferFailure(t *testing.T) {
	repo, gw, notifier, svc := captureFixture()
	ctx := context.Background()
	id := uuid.New()
	clientID := uuid.New()
	freelancerID := uuid.New()

	repo.On("GetMilestone", ctx, id).Return(&models.Milestone{
		ID:           id,
		ClientID:     clientID,
		FreelancerID: freelancerID,
		Status:       models.MilestoneStatusApproved,
		CheckoutID:   checkoutRef("chk-9"),
	}, nil)
	gw.On("Transfer", ctx, "chk-9").Return(errors.New("paymee: timeout"))

	failed := &models.Milestone{
		ID:           id,
		ClientID:     clientID,
		FreelancerID: freelancerID,
		Status:       models.MilestoneStatusCaptureError,
	}
	repo.On("MarkCaptureFailed", ctx, id, "paymee: timeout").Return(failed, nil)
	notifier.On("NotifyPaymentStatus", clientID, failed).Return()
	notifier.On("NotifyPaymentStatus", freelancerID, failed).Return()

	// Ошибка шлюза поглощается: повтор берёт на себя планировщик.
	err := svc.Process(ctx, id)
	assert.NoError(t, err)
	repo.AssertNotCalled(t, "MarkPaid")
	notifier.AssertExpectations(t)
}

func TestCaptureService_Process_Success(t *testing.T) {
	repo, gw, notifier, svc := captureFixture()
	ctx := context.Background()
	id := uuid.New()
	clientID := uuid.New()
	freelancerID := uuid.New()

	repo.On("GetMilestone", ctx, id).Return(&models.Milestone{
		ID:           id,
		ClientID:     clientID,
		FreelancerID: freelancerID,
		Status:       models.MilestoneStatusApproved,
		CheckoutID:   checkoutRef("chk-7"),
	}, nil)
	gw.On("Transfer", ctx, "chk-7").Return(nil)

	paid := &models.Milestone{
		ID:           id,
		ClientID:     clientID,
		FreelancerID: freelancerID,
		Status:       models.MilestoneStatusPaid,
	}
	repo.On("MarkPaid", ctx, id).Return(paid, true, false, nil)
	notifier.On("NotifyPaymentStatus", clientID, paid).Return()
	notifier.On("NotifyPaymentStatus", freelancerID, paid).Return()

	err := svc.Process(ctx, id)
	assert.NoError(t, err)
	repo.AssertExpectations(t)
	gw.AssertExpectations(t)
}

func TestCaptureService_Process_ConcurrentTriggerPaysOnce(t *testing.T) {
	repo, gw, notifier, svc := captureFixture()
	ctx := context.Background()
	id := uuid.New()

	repo.On("GetMilestone", ctx, id).Return(&models.Milestone{
		ID:         id,
		Status:     models.MilestoneStatusApproved,
		CheckoutID: checkoutRef("chk-7"),
	}, nil)
	gw.On("Transfer", ctx, "chk-7").Return(nil)

	// Конкурентный триггер проиграл гонку: MarkPaid сообщает, что переход
	// уже применён, зачисление не дублируется.
	repo.On("MarkPaid", ctx, id).
		Return(&models.Milestone{ID: id, Status: models.MilestoneStatusPaid}, false, false, nil)

	err := svc.Process(ctx, id)
	assert.NoError(t, err)
	notifier.AssertNotCalled(t, "NotifyPaymentStatus")
}

func TestCaptureService_Process_RetryAfterCaptureError(t *testing.T) {
	repo, gw, notifier, svc := captureFixture()
	ctx := context.Background()
	id := uuid.New()
	clientID := uuid.New()
	freelancerID := uuid.New()

	repo.On("GetMilestone", ctx, id).Return(&models.Milestone{
		ID:           id,
		ClientID:     clientID,
		FreelancerID: freelancerID,
		Status:       models.MilestoneStatusCaptureError,
		CheckoutID:   checkoutRef("chk-5"),
	}, nil)
	gw.On("Transfer", ctx, "chk-5").Return(nil)

	paid := &models.Milestone{
		ID:           id,
		ClientID:     clientID,
		FreelancerID: freelancerID,
		Status:       models.MilestoneStatusPaid,
	}
	repo.On("MarkPaid", ctx, id).Return(paid, true, true, nil)
	notifier.On("NotifyPaymentStatus", clientID, paid).Return()
	notifier.On("NotifyPaymentStatus", freelancerID, paid).Return()

	err := svc.Process(ctx, id)
	assert.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestCaptureService_Enqueue_DropsWhenFull(t *testing.T) {
	repo := new(mockCaptureRepo)
	svc := NewCaptureService(repo, new(mockGateway), nil, 1)

	// Первый сигнал занимает буфер, второй молча отбрасывается.
	svc.Enqueue(uuid.New())
	svc.Enqueue(uuid.New())

	assert.Len(t, svc.queue, 1)
}
