package booking

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/moducoop/booking/internal/model"
	"github.com/moducoop/booking/internal/payment"
	"github.com/moducoop/booking/internal/pricing"
	"github.com/moducoop/booking/internal/queue"
	"github.com/moducoop/booking/internal/repository"
)

func init() {
	logrus.SetOutput(io.Discard)
}

// fakeCatalog serves programs from a map.
type fakeCatalog struct {
	mu       sync.Mutex
	programs map[uint64]*model.Program
}

func (f *fakeCatalog) GetByID(_ context.Context, id uint64) (*model.Program, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.programs[id]
	if !ok {
		return nil, repository.ErrProgramNotFound
	}
	cp := *p
	return &cp, nil
}

// fakeGuard is an in-memory capacity counter with the same
// check-and-increment contract as the SQL guard.
type fakeGuard struct {
	mu       sync.Mutex
	capacity uint32
	taken    uint32
	releases int
}

func (f *fakeGuard) ReserveSlot(_ context.Context, _ uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.taken >= f.capacity {
		return repository.ErrProgramFull
	}
	f.taken++
	return nil
}

func (f *fakeGuard) ReleaseSlot(_ context.Context, _ uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.taken > 0 {
		f.taken--
	}
	f.releases++
	return nil
}

func (f *fakeGuard) snapshot() (uint32, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.taken, f.releases
}

// fakeStore mirrors the transactional repository semantics in memory:
// conditional transitions, slot release exactly once per order.
type fakeStore struct {
	mu           sync.Mutex
	guard        *fakeGuard
	payments     map[string]*model.Payment
	reservations map[uint64]*model.Reservation
	refunds      []*model.Refund
	nextID       uint64
}

func newFakeStore(guard *fakeGuard) *fakeStore {
	return &fakeStore{
		guard:        guard,
		payments:     make(map[string]*model.Payment),
		reservations: make(map[uint64]*model.Reservation),
	}
}

func (f *fakeStore) CreatePending(_ context.Context, res *model.Reservation, pay *model.Payment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.reservations {
		if r.ProgramID == res.ProgramID && r.UserID == res.UserID && r.Status != model.ReservationStatusCancelled {
			return repository.ErrAlreadyReserved
		}
	}
	f.nextID++
	res.ID = f.nextID
	res.Status = model.ReservationStatusRegistered
	res.PaymentStatus = model.ReservationPaymentPending
	cpRes := *res
	f.reservations[res.ID] = &cpRes

	f.nextID++
	pay.ID = f.nextID
	pay.Status = model.PaymentStatusPending
	pay.CreatedAt = time.Now().UTC()
	cpPay := *pay
	f.payments[pay.OrderID] = &cpPay
	return nil
}

func (f *fakeStore) PaymentByOrderID(_ context.Context, orderID string) (*model.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[orderID]
	if !ok {
		return nil, repository.ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeStore) ReservationByID(_ context.Context, id uint64) (*model.Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reservations[id]
	if !ok {
		return nil, repository.ErrReservationNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeStore) ListPendingBefore(_ context.Context, cutoff time.Time) ([]model.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Payment
	for _, p := range f.payments {
		if p.Status == model.PaymentStatusPending && p.CreatedAt.Before(cutoff) {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeStore) CommitApproval(_ context.Context, orderID, providerTxID, method string, raw []byte, approvedAt time.Time) (*model.Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pay, ok := f.payments[orderID]
	if !ok {
		return nil, repository.ErrPaymentNotFound
	}
	if pay.Status != model.PaymentStatusPending {
		return nil, repository.ErrConflict
	}
	var res *model.Reservation
	for _, r := range f.reservations {
		if r.ProgramID == pay.ProgramID && r.UserID == pay.UserID && r.Status == model.ReservationStatusRegistered {
			res = r
			break
		}
	}
	if res == nil {
		return nil, repository.ErrReservationNotFound
	}
	pay.Status = model.PaymentStatusCompleted
	pay.ProviderTxID = providerTxID
	pay.PaymentMethod = method
	pay.RawData = raw
	pay.ApprovedAt = &approvedAt
	pay.ReservationID = &res.ID
	res.Status = model.ReservationStatusConfirmed
	res.PaymentStatus = model.ReservationPaymentPaid
	cp := *res
	return &cp, nil
}

func (f *fakeStore) RollbackBooking(_ context.Context, orderID, paymentStatus string, raw []byte) error {
	f.mu.Lock()
	pay, ok := f.payments[orderID]
	if !ok {
		f.mu.Unlock()
		return repository.ErrPaymentNotFound
	}
	if pay.Status == model.PaymentStatusPending {
		pay.Status = paymentStatus
		pay.RawData = raw
	}
	for _, r := range f.reservations {
		if r.ProgramID == pay.ProgramID && r.UserID == pay.UserID && r.Status == model.ReservationStatusRegistered {
			r.Status = model.ReservationStatusCancelled
			r.PaymentStatus = model.ReservationPaymentFailed
		}
	}
	release := !pay.SlotReleased
	pay.SlotReleased = true
	programID := pay.ProgramID
	f.mu.Unlock()
	if release {
		return f.guard.ReleaseSlot(context.Background(), programID)
	}
	return nil
}

func (f *fakeStore) ClaimCancellation(_ context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	pay, ok := f.payments[orderID]
	if !ok {
		return repository.ErrPaymentNotFound
	}
	if pay.Status != model.PaymentStatusCompleted {
		return repository.ErrConflict
	}
	pay.Status = model.PaymentStatusCancelling
	return nil
}

func (f *fakeStore) ReopenCancellation(_ context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	pay, ok := f.payments[orderID]
	if !ok {
		return repository.ErrPaymentNotFound
	}
	if pay.Status != model.PaymentStatusCancelling {
		return repository.ErrConflict
	}
	pay.Status = model.PaymentStatusCompleted
	return nil
}

func (f *fakeStore) CancelCommitted(_ context.Context, orderID string, refund *model.Refund, raw []byte) error {
	f.mu.Lock()
	pay, ok := f.payments[orderID]
	if !ok {
		f.mu.Unlock()
		return repository.ErrPaymentNotFound
	}
	if pay.Status != model.PaymentStatusCancelling {
		f.mu.Unlock()
		return repository.ErrConflict
	}
	pay.Status = model.PaymentStatusCancelled
	pay.RawData = raw
	if pay.ReservationID != nil {
		if r, ok := f.reservations[*pay.ReservationID]; ok {
			r.Status = model.ReservationStatusCancelled
			r.PaymentStatus = model.ReservationPaymentRefunded
		}
	}
	refund.PaymentID = pay.ID
	refund.Status = model.RefundStatusCompleted
	cp := *refund
	f.refunds = append(f.refunds, &cp)
	release := !pay.SlotReleased
	pay.SlotReleased = true
	programID := pay.ProgramID
	f.mu.Unlock()
	if release {
		return f.guard.ReleaseSlot(context.Background(), programID)
	}
	return nil
}

func (f *fakeStore) RefundedTotal(_ context.Context, paymentID uint64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var total int64
	for _, rf := range f.refunds {
		if rf.PaymentID == paymentID && rf.Status != model.RefundStatusRejected {
			total += rf.Amount
		}
	}
	return total, nil
}

// fakeGateway lets each test script the provider's behaviour.
type fakeGateway struct {
	mu            sync.Mutex
	initiateCalls int
	approveCalls  int
	cancelCalls   int
	approveFn     func(providerTxID, orderID string, expectedAmount int64) (*payment.ApprovedPayment, error)
	cancelFn      func(providerTxID string, amount int64) (*payment.CancelledPayment, error)
	statusFn      func(orderID string) (*payment.StatusResult, error)
	initiateErr   error
}

func (f *fakeGateway) Initiate(_ context.Context, req payment.InitiateRequest) (*payment.ClientHandoff, error) {
	f.mu.Lock()
	f.initiateCalls++
	f.mu.Unlock()
	if f.initiateErr != nil {
		return nil, f.initiateErr
	}
	return &payment.ClientHandoff{
		Provider: payment.ProviderWidgetPay,
		OrderID:  req.OrderID,
		Amount:   req.Amount,
		Currency: req.Currency,
	}, nil
}

func (f *fakeGateway) Approve(_ context.Context, providerTxID, orderID string, expectedAmount int64) (*payment.ApprovedPayment, error) {
	f.mu.Lock()
	f.approveCalls++
	f.mu.Unlock()
	if f.approveFn != nil {
		return f.approveFn(providerTxID, orderID, expectedAmount)
	}
	return &payment.ApprovedPayment{
		ProviderTxID: providerTxID,
		OrderID:      orderID,
		Amount:       expectedAmount,
		Method:       "card",
		ApprovedAt:   time.Now().UTC(),
	}, nil
}

func (f *fakeGateway) Cancel(_ context.Context, providerTxID string, amount int64, _ string) (*payment.CancelledPayment, error) {
	f.mu.Lock()
	f.cancelCalls++
	f.mu.Unlock()
	if f.cancelFn != nil {
		return f.cancelFn(providerTxID, amount)
	}
	return &payment.CancelledPayment{ProviderTxID: providerTxID, Amount: amount, CancelledAt: time.Now().UTC()}, nil
}

func (f *fakeGateway) Status(_ context.Context, orderID string) (*payment.StatusResult, error) {
	if f.statusFn != nil {
		return f.statusFn(orderID)
	}
	return &payment.StatusResult{Approved: false}, nil
}

// fakeDispatcher records published events.
type fakeDispatcher struct {
	mu        sync.Mutex
	confirmed []queue.ReservationConfirmedEvent
	cancelled []queue.ReservationCancelledEvent
}

func (f *fakeDispatcher) ReservationConfirmed(_ context.Context, ev queue.ReservationConfirmedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirmed = append(f.confirmed, ev)
	return nil
}

func (f *fakeDispatcher) ReservationCancelled(_ context.Context, ev queue.ReservationCancelledEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, ev)
	return nil
}

// testEnv bundles the orchestrator with its fakes.
type testEnv struct {
	flow       *Orchestrator
	catalog    *fakeCatalog
	guard      *fakeGuard
	store      *fakeStore
	gateway    *fakeGateway
	dispatcher *fakeDispatcher
}

func newTestEnv(capacity uint32) *testEnv {
	deadline := time.Now().UTC().Add(24 * time.Hour)
	early := int64(40000)
	catalog := &fakeCatalog{programs: map[uint64]*model.Program{
		1: {
			ID:                1,
			Title:             "Spring Coding Camp",
			BasePrice:         50000,
			EarlyBirdPrice:    &early,
			EarlyBirdDeadline: &deadline,
			MaxParticipants:   capacity,
			Status:            model.ProgramStatusOpen,
			StartDate:         time.Now().UTC().Add(48 * time.Hour),
			EndDate:           time.Now().UTC().Add(72 * time.Hour),
		},
	}}
	guard := &fakeGuard{capacity: capacity}
	store := newFakeStore(guard)
	gateway := &fakeGateway{}
	dispatcher := &fakeDispatcher{}
	flow := New(catalog, guard, store, gateway, dispatcher, Config{
		Provider:   payment.ProviderWidgetPay,
		Currency:   "KRW",
		SuccessURL: "https://example.test/success",
		FailURL:    "https://example.test/fail",
	})
	return &testEnv{flow: flow, catalog: catalog, guard: guard, store: store, gateway: gateway, dispatcher: dispatcher}
}

func beginReq(userID uint64) BeginRequest {
	return BeginRequest{
		ProgramID:        1,
		UserID:           userID,
		ParticipantName:  "Kim Jiyoung",
		ParticipantPhone: "010-1234-5678",
		ParticipantEmail: "jiyoung@example.test",
	}
}

func TestBegin_LocksPriceAndHoldsSlot(t *testing.T) {
	env := newTestEnv(5)
	checkout, err := env.flow.Begin(context.Background(), beginReq(10))
	require.NoError(t, err)
	require.Equal(t, StatePaymentInitiated, checkout.State)
	require.Equal(t, int64(40000), checkout.Amount) // early-bird window is open
	require.True(t, checkout.IsEarlyBird)
	require.NotNil(t, checkout.Handoff)
	require.NotEmpty(t, checkout.OrderID)

	taken, _ := env.guard.snapshot()
	require.Equal(t, uint32(1), taken)

	pay, err := env.store.PaymentByOrderID(context.Background(), checkout.OrderID)
	require.NoError(t, err)
	require.Equal(t, model.PaymentStatusPending, pay.Status)
	require.Equal(t, int64(40000), pay.Amount)
	require.Nil(t, pay.ReservationID)
}

func TestBegin_RejectsInvalidInput(t *testing.T) {
	env := newTestEnv(5)
	_, err := env.flow.Begin(context.Background(), BeginRequest{ProgramID: 1, UserID: 10})
	require.True(t, errors.Is(err, ErrInvalidInput))
	taken, _ := env.guard.snapshot()
	require.Zero(t, taken)
}

func TestBegin_FullProgramLeavesNoTrace(t *testing.T) {
	env := newTestEnv(1)
	_, err := env.flow.Begin(context.Background(), beginReq(10))
	require.NoError(t, err)

	_, err = env.flow.Begin(context.Background(), beginReq(11))
	require.True(t, errors.Is(err, repository.ErrProgramFull))

	// The losing attempt must leave no payment row and no extra slot.
	env.store.mu.Lock()
	require.Len(t, env.store.payments, 1)
	env.store.mu.Unlock()
	taken, _ := env.guard.snapshot()
	require.Equal(t, uint32(1), taken)
}

func TestBegin_StartedProgramRejected(t *testing.T) {
	env := newTestEnv(5)
	env.catalog.programs[1].StartDate = time.Now().UTC().Add(-time.Hour)
	_, err := env.flow.Begin(context.Background(), beginReq(10))
	require.True(t, errors.Is(err, ErrProgramStarted))
}

func TestBegin_InitiateFailureRollsBack(t *testing.T) {
	env := newTestEnv(5)
	env.gateway.initiateErr = payment.ErrProviderTimeout

	_, err := env.flow.Begin(context.Background(), beginReq(10))
	require.Error(t, err)

	taken, releases := env.guard.snapshot()
	require.Zero(t, taken)
	require.Equal(t, 1, releases)
}

func TestConcurrentBegin_LastSlotSingleWinner(t *testing.T) {
	env := newTestEnv(1)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.flow.Begin(context.Background(), beginReq(uint64(100+i)))
		}(i)
	}
	wg.Wait()

	var won, full int
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, repository.ErrProgramFull):
			full++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, won)
	require.Equal(t, 1, full)
}

func TestApprove_CommitsAndPublishes(t *testing.T) {
	env := newTestEnv(5)
	checkout, err := env.flow.Begin(context.Background(), beginReq(10))
	require.NoError(t, err)

	res, err := env.flow.Approve(context.Background(), checkout.OrderID, "pk_test_1")
	require.NoError(t, err)
	require.Equal(t, model.ReservationStatusConfirmed, res.Status)
	require.Equal(t, model.ReservationPaymentPaid, res.PaymentStatus)
	require.Equal(t, checkout.Amount, res.AmountPaid)

	pay, err := env.store.PaymentByOrderID(context.Background(), checkout.OrderID)
	require.NoError(t, err)
	require.Equal(t, model.PaymentStatusCompleted, pay.Status)
	require.NotNil(t, pay.ReservationID)
	require.Equal(t, res.ID, *pay.ReservationID)

	require.Len(t, env.dispatcher.confirmed, 1)
	require.Equal(t, checkout.OrderID, env.dispatcher.confirmed[0].OrderID)
}

func TestApprove_SecondCallIdempotent(t *testing.T) {
	env := newTestEnv(5)
	checkout, err := env.flow.Begin(context.Background(), beginReq(10))
	require.NoError(t, err)

	first, err := env.flow.Approve(context.Background(), checkout.OrderID, "pk_test_1")
	require.NoError(t, err)
	second, err := env.flow.Approve(context.Background(), checkout.OrderID, "pk_test_1")
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	// The provider is charged once: the replay is served from the store.
	require.Equal(t, 1, env.gateway.approveCalls)
	require.Len(t, env.dispatcher.confirmed, 1)
}

func TestApprove_AmountMismatchRollsBack(t *testing.T) {
	env := newTestEnv(5)
	checkout, err := env.flow.Begin(context.Background(), beginReq(10))
	require.NoError(t, err)

	env.gateway.approveFn = func(_, _ string, _ int64) (*payment.ApprovedPayment, error) {
		return nil, &payment.ProviderError{Code: "AMOUNT_MISMATCH", Err: payment.ErrAmountMismatch}
	}
	_, err = env.flow.Approve(context.Background(), checkout.OrderID, "pk_test_1")
	require.True(t, errors.Is(err, payment.ErrAmountMismatch))

	pay, err := env.store.PaymentByOrderID(context.Background(), checkout.OrderID)
	require.NoError(t, err)
	require.Equal(t, model.PaymentStatusFailed, pay.Status)

	taken, releases := env.guard.snapshot()
	require.Zero(t, taken)
	require.Equal(t, 1, releases)
}

func TestApprove_DeclineRollsBackOnce(t *testing.T) {
	env := newTestEnv(5)
	checkout, err := env.flow.Begin(context.Background(), beginReq(10))
	require.NoError(t, err)

	env.gateway.approveFn = func(_, _ string, _ int64) (*payment.ApprovedPayment, error) {
		return nil, &payment.ProviderError{Code: "REJECT_CARD", Err: payment.ErrDeclined}
	}
	_, err = env.flow.Approve(context.Background(), checkout.OrderID, "pk_test_1")
	require.True(t, errors.Is(err, payment.ErrDeclined))

	// A failed order cannot be approved again.
	env.gateway.approveFn = nil
	_, err = env.flow.Approve(context.Background(), checkout.OrderID, "pk_test_1")
	require.True(t, errors.Is(err, repository.ErrConflict))

	_, releases := env.guard.snapshot()
	require.Equal(t, 1, releases)
}

func TestApprove_TimeoutLeavesPending(t *testing.T) {
	env := newTestEnv(5)
	checkout, err := env.flow.Begin(context.Background(), beginReq(10))
	require.NoError(t, err)

	env.gateway.approveFn = func(_, _ string, _ int64) (*payment.ApprovedPayment, error) {
		return nil, payment.ErrProviderTimeout
	}
	_, err = env.flow.Approve(context.Background(), checkout.OrderID, "pk_test_1")
	require.True(t, errors.Is(err, payment.ErrProviderTimeout))

	// Pending survives for the reconcile sweep, the slot stays held.
	pay, err := env.store.PaymentByOrderID(context.Background(), checkout.OrderID)
	require.NoError(t, err)
	require.Equal(t, model.PaymentStatusPending, pay.Status)
	taken, _ := env.guard.snapshot()
	require.Equal(t, uint32(1), taken)
}

func TestResume_ReturnsExistingCheckout(t *testing.T) {
	env := newTestEnv(5)
	checkout, err := env.flow.Begin(context.Background(), beginReq(10))
	require.NoError(t, err)

	resumed, err := env.flow.Resume(context.Background(), checkout.OrderID, 10)
	require.NoError(t, err)
	require.Equal(t, checkout.OrderID, resumed.OrderID)
	require.Equal(t, checkout.Amount, resumed.Amount)
	require.Equal(t, StatePaymentInitiated, resumed.State)
	require.NotNil(t, resumed.Handoff)

	// No second slot, no second payment row.
	taken, _ := env.guard.snapshot()
	require.Equal(t, uint32(1), taken)
	env.store.mu.Lock()
	require.Len(t, env.store.payments, 1)
	env.store.mu.Unlock()
}

func TestResume_OtherUsersOrderForbidden(t *testing.T) {
	env := newTestEnv(5)
	checkout, err := env.flow.Begin(context.Background(), beginReq(10))
	require.NoError(t, err)

	_, err = env.flow.Resume(context.Background(), checkout.OrderID, 11)
	require.True(t, errors.Is(err, repository.ErrForbidden))
}

func TestResume_ReportsTerminalState(t *testing.T) {
	env := newTestEnv(5)
	checkout, err := env.flow.Begin(context.Background(), beginReq(10))
	require.NoError(t, err)
	_, err = env.flow.Approve(context.Background(), checkout.OrderID, "pk_test_1")
	require.NoError(t, err)

	resumed, err := env.flow.Resume(context.Background(), checkout.OrderID, 10)
	require.NoError(t, err)
	require.Equal(t, StateCommitted, resumed.State)
	require.Nil(t, resumed.Handoff)
}

func TestResume_PriceEditStopsCheckout(t *testing.T) {
	env := newTestEnv(5)
	checkout, err := env.flow.Begin(context.Background(), beginReq(10))
	require.NoError(t, err)

	// Admin changes the early-bird price while the widget is open.
	raised := int64(45000)
	env.catalog.programs[1].EarlyBirdPrice = &raised

	_, err = env.flow.Resume(context.Background(), checkout.OrderID, 10)
	require.True(t, errors.Is(err, pricing.ErrPriceChanged))

	// The stale checkout was rolled back and its slot returned.
	pay, err := env.store.PaymentByOrderID(context.Background(), checkout.OrderID)
	require.NoError(t, err)
	require.Equal(t, model.PaymentStatusFailed, pay.Status)
	taken, _ := env.guard.snapshot()
	require.Zero(t, taken)
}

func TestCancel_RefundsAndReleases(t *testing.T) {
	env := newTestEnv(5)
	checkout, err := env.flow.Begin(context.Background(), beginReq(10))
	require.NoError(t, err)
	_, err = env.flow.Approve(context.Background(), checkout.OrderID, "pk_test_1")
	require.NoError(t, err)

	refund, err := env.flow.Cancel(context.Background(), checkout.OrderID, 10, false, "schedule conflict")
	require.NoError(t, err)
	require.Equal(t, checkout.Amount, refund.Amount)

	pay, err := env.store.PaymentByOrderID(context.Background(), checkout.OrderID)
	require.NoError(t, err)
	require.Equal(t, model.PaymentStatusCancelled, pay.Status)

	taken, _ := env.guard.snapshot()
	require.Zero(t, taken)
	require.Len(t, env.dispatcher.cancelled, 1)
}

func TestCancel_NotOwnerForbidden(t *testing.T) {
	env := newTestEnv(5)
	checkout, err := env.flow.Begin(context.Background(), beginReq(10))
	require.NoError(t, err)
	_, err = env.flow.Approve(context.Background(), checkout.OrderID, "pk_test_1")
	require.NoError(t, err)

	_, err = env.flow.Cancel(context.Background(), checkout.OrderID, 11, false, "")
	require.True(t, errors.Is(err, repository.ErrForbidden))

	// An admin may cancel on the member's behalf.
	refund, err := env.flow.Cancel(context.Background(), checkout.OrderID, 99, true, "admin action")
	require.NoError(t, err)
	require.NotNil(t, refund.ProcessedBy)
	require.Equal(t, uint64(99), *refund.ProcessedBy)
}

func TestCancel_AfterStartRejected(t *testing.T) {
	env := newTestEnv(5)
	checkout, err := env.flow.Begin(context.Background(), beginReq(10))
	require.NoError(t, err)
	_, err = env.flow.Approve(context.Background(), checkout.OrderID, "pk_test_1")
	require.NoError(t, err)

	env.catalog.programs[1].StartDate = time.Now().UTC().Add(-time.Hour)
	_, err = env.flow.Cancel(context.Background(), checkout.OrderID, 10, false, "")
	require.True(t, errors.Is(err, ErrProgramStarted))
}

func TestApprove_RollbackDuringApprovalRefundsCharge(t *testing.T) {
	env := newTestEnv(5)
	checkout, err := env.flow.Begin(context.Background(), beginReq(10))
	require.NoError(t, err)

	// The reconcile sweep closes the order while the provider call is
	// still in flight; the approval itself succeeds.
	env.gateway.approveFn = func(providerTxID, orderID string, expectedAmount int64) (*payment.ApprovedPayment, error) {
		require.NoError(t, env.store.RollbackBooking(context.Background(), checkout.OrderID, model.PaymentStatusFailed, nil))
		return &payment.ApprovedPayment{
			ProviderTxID: providerTxID,
			OrderID:      orderID,
			Amount:       expectedAmount,
			Method:       "card",
			ApprovedAt:   time.Now().UTC(),
		}, nil
	}

	_, err = env.flow.Approve(context.Background(), checkout.OrderID, "pk_test_1")
	require.True(t, errors.Is(err, repository.ErrConflict))

	// The stranded charge was handed back to the provider.
	env.gateway.mu.Lock()
	cancels := env.gateway.cancelCalls
	env.gateway.mu.Unlock()
	require.Equal(t, 1, cancels)

	pay, err := env.store.PaymentByOrderID(context.Background(), checkout.OrderID)
	require.NoError(t, err)
	require.Equal(t, model.PaymentStatusFailed, pay.Status)
	require.Empty(t, env.dispatcher.confirmed)
	taken, releases := env.guard.snapshot()
	require.Zero(t, taken)
	require.Equal(t, 1, releases)
}

func TestConcurrentCancel_SingleProviderRefund(t *testing.T) {
	env := newTestEnv(5)
	checkout, err := env.flow.Begin(context.Background(), beginReq(10))
	require.NoError(t, err)
	_, err = env.flow.Approve(context.Background(), checkout.OrderID, "pk_test_1")
	require.NoError(t, err)

	// Hold the first cancellation inside the provider call so the
	// second one arrives while the refund is still in flight.
	entered := make(chan struct{})
	release := make(chan struct{})
	env.gateway.cancelFn = func(providerTxID string, amount int64) (*payment.CancelledPayment, error) {
		close(entered)
		<-release
		return &payment.CancelledPayment{ProviderTxID: providerTxID, Amount: amount, CancelledAt: time.Now().UTC()}, nil
	}

	firstErr := make(chan error, 1)
	go func() {
		_, err := env.flow.Cancel(context.Background(), checkout.OrderID, 10, false, "first")
		firstErr <- err
	}()
	<-entered

	_, err = env.flow.Cancel(context.Background(), checkout.OrderID, 10, false, "second")
	require.True(t, errors.Is(err, repository.ErrConflict))

	close(release)
	require.NoError(t, <-firstErr)

	// Exactly one refund reached the provider, exactly one was recorded.
	env.gateway.mu.Lock()
	cancels := env.gateway.cancelCalls
	env.gateway.mu.Unlock()
	require.Equal(t, 1, cancels)
	env.store.mu.Lock()
	require.Len(t, env.store.refunds, 1)
	env.store.mu.Unlock()

	pay, err := env.store.PaymentByOrderID(context.Background(), checkout.OrderID)
	require.NoError(t, err)
	require.Equal(t, model.PaymentStatusCancelled, pay.Status)
	_, releases := env.guard.snapshot()
	require.Equal(t, 1, releases)
}

func TestCancel_RefundFailureKeepsBookingCancellable(t *testing.T) {
	env := newTestEnv(5)
	checkout, err := env.flow.Begin(context.Background(), beginReq(10))
	require.NoError(t, err)
	_, err = env.flow.Approve(context.Background(), checkout.OrderID, "pk_test_1")
	require.NoError(t, err)

	env.gateway.cancelFn = func(string, int64) (*payment.CancelledPayment, error) {
		return nil, payment.ErrProviderTimeout
	}
	_, err = env.flow.Cancel(context.Background(), checkout.OrderID, 10, false, "")
	require.True(t, errors.Is(err, payment.ErrProviderTimeout))

	// The claim was handed back, so a retry can still cancel.
	pay, err := env.store.PaymentByOrderID(context.Background(), checkout.OrderID)
	require.NoError(t, err)
	require.Equal(t, model.PaymentStatusCompleted, pay.Status)

	env.gateway.cancelFn = nil
	refund, err := env.flow.Cancel(context.Background(), checkout.OrderID, 10, false, "retry")
	require.NoError(t, err)
	require.Equal(t, checkout.Amount, refund.Amount)
}

func TestCancel_PendingPaymentRejected(t *testing.T) {
	env := newTestEnv(5)
	checkout, err := env.flow.Begin(context.Background(), beginReq(10))
	require.NoError(t, err)

	_, err = env.flow.Cancel(context.Background(), checkout.OrderID, 10, false, "")
	require.True(t, errors.Is(err, repository.ErrConflict))
}

func TestReconcile_SettlesStaleOrders(t *testing.T) {
	env := newTestEnv(5)

	abandoned, err := env.flow.Begin(context.Background(), beginReq(10))
	require.NoError(t, err)
	approved, err := env.flow.Begin(context.Background(), beginReq(11))
	require.NoError(t, err)

	// Age both payments past the pending window.
	env.store.mu.Lock()
	for _, p := range env.store.payments {
		p.CreatedAt = time.Now().UTC().Add(-time.Hour)
	}
	env.store.mu.Unlock()

	// The provider knows one charge went through; the other order
	// never reached it.
	env.gateway.statusFn = func(orderID string) (*payment.StatusResult, error) {
		if orderID == approved.OrderID {
			return &payment.StatusResult{Approved: true, ProviderTxID: "pk_late", Amount: approved.Amount}, nil
		}
		return &payment.StatusResult{Approved: false}, nil
	}

	settled, err := env.flow.Reconcile(context.Background(), 30*time.Minute)
	require.NoError(t, err)
	require.Equal(t, 2, settled)

	late, err := env.store.PaymentByOrderID(context.Background(), approved.OrderID)
	require.NoError(t, err)
	require.Equal(t, model.PaymentStatusCompleted, late.Status)

	lost, err := env.store.PaymentByOrderID(context.Background(), abandoned.OrderID)
	require.NoError(t, err)
	require.Equal(t, model.PaymentStatusFailed, lost.Status)

	// Exactly the abandoned order's slot was released.
	taken, releases := env.guard.snapshot()
	require.Equal(t, uint32(1), taken)
	require.Equal(t, 1, releases)
	require.Len(t, env.dispatcher.confirmed, 1)
}

func TestReconcile_FreshPendingUntouched(t *testing.T) {
	env := newTestEnv(5)
	checkout, err := env.flow.Begin(context.Background(), beginReq(10))
	require.NoError(t, err)

	settled, err := env.flow.Reconcile(context.Background(), 30*time.Minute)
	require.NoError(t, err)
	require.Zero(t, settled)

	pay, err := env.store.PaymentByOrderID(context.Background(), checkout.OrderID)
	require.NoError(t, err)
	require.Equal(t, model.PaymentStatusPending, pay.Status)
}

func TestNewOrderID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := NewOrderID()
		require.NoError(t, err)
		require.False(t, seen[id])
		seen[id] = true
	}
}
