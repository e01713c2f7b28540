package scheduler

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"tailor_hub/internal/assignment"
	"tailor_hub/internal/model"
	"tailor_hub/internal/order"
	"tailor_hub/internal/store/storetest"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func statusOf(t *testing.T, db *gorm.DB, id string) model.AssignmentStatus {
	t.Helper()
	var a model.Assignment
	if err := db.First(&a, "id = ?", id).Error; err != nil {
		t.Fatalf("reload assignment: %v", err)
	}
	return a.Status
}

func TestExpiryJobs(t *testing.T) {
	t.Parallel()

	db := storetest.New(t)
	ctx := context.Background()
	log := quietLogger()

	c := storetest.Customer(t, db)
	o := storetest.Order(t, db, c.ID, false)
	vendors := storetest.Vendors(t, db, 4)
	ledger := assignment.NewLedger(db, log, nil, assignment.SettingsFees{Default: assignment.Fees{
		CommissionPercent:  decimal.NewFromInt(10),
		PlatformFeePercent: decimal.NewFromInt(5),
	}}, 24*time.Hour)
	as, err := ledger.Solicit(ctx, o.ID, order.Actor{ID: c.ID, Role: model.RoleCustomer}, storetest.VendorIDs(vendors))
	if err != nil {
		t.Fatalf("solicit: %v", err)
	}

	quotes := make([]model.Quote, 2)
	for i := 0; i < 2; i++ {
		price, days := int64(1000), 2
		res, err := ledger.Respond(ctx, assignment.RespondInput{
			AssignmentID: as[i].ID, VendorID: as[i].VendorID,
			Action: model.ResponseAccept, QuotedPrice: &price, QuotedDays: &days,
		})
		if err != nil {
			t.Fatalf("accept %d: %v", i, err)
		}
		quotes[i] = *res.Quote
	}
	// as[0] 新鲜报价, as[1] 过期报价, as[2] 过期邀请, as[3] 新鲜邀请
	storetest.Backdate(t, db, &model.Quote{}, quotes[1].ID, 25*time.Hour)
	storetest.Backdate(t, db, &model.Assignment{}, as[2].ID, 25*time.Hour)

	e := NewExpiry(db, log, 24*time.Hour)

	n, err := e.ExpirePendingAssignments(ctx)
	if err != nil || n != 1 {
		t.Fatalf("expected 1 pending expired, got %d %v", n, err)
	}
	n, err = e.ExpireAcceptedQuotes(ctx)
	if err != nil || n != 1 {
		t.Fatalf("expected 1 quote expired, got %d %v", n, err)
	}

	want := []model.AssignmentStatus{model.AssignmentAccepted, model.AssignmentFrozen, model.AssignmentExpired, model.AssignmentPending}
	for i, w := range want {
		if got := statusOf(t, db, as[i].ID); got != w {
			t.Fatalf("assignment %d: expected %s, got %s", i, w, got)
		}
	}

	var q0, q1 model.Quote
	db.First(&q0, "id = ?", quotes[0].ID)
	db.First(&q1, "id = ?", quotes[1].ID)
	if q0.IsProcessed || !q1.IsProcessed {
		t.Fatalf("expected only the stale quote processed, got fresh=%v stale=%v", q0.IsProcessed, q1.IsProcessed)
	}

	// 再跑一次不会重复迁移
	if n, _ := e.ExpirePendingAssignments(ctx); n != 0 {
		t.Fatalf("second pending run touched %d rows", n)
	}
	if n, _ := e.ExpireAcceptedQuotes(ctx); n != 0 {
		t.Fatalf("second quote run touched %d rows", n)
	}
}

func TestExpiryLeavesRespondedAssignments(t *testing.T) {
	t.Parallel()

	db := storetest.New(t)
	c := storetest.Customer(t, db)
	o := storetest.Order(t, db, c.ID, false)
	v := storetest.Vendor(t, db)
	a := model.Assignment{OrderID: o.ID, VendorID: v.ID, Status: model.AssignmentRejected}
	if err := db.Create(&a).Error; err != nil {
		t.Fatalf("seed assignment: %v", err)
	}
	storetest.Backdate(t, db, &model.Assignment{}, a.ID, 48*time.Hour)

	n, err := NewExpiry(db, quietLogger(), 24*time.Hour).ExpirePendingAssignments(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("expected no rows, got %d %v", n, err)
	}
	if got := statusOf(t, db, a.ID); got != model.AssignmentRejected {
		t.Fatalf("expected REJECTED untouched, got %s", got)
	}
}

type fakeLocker struct {
	mu       sync.Mutex
	grant    bool
	err      error
	released []string
}

func (l *fakeLocker) Acquire(context.Context, string, time.Duration) (bool, error) {
	return l.grant, l.err
}

func (l *fakeLocker) Release(_ context.Context, job string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.released = append(l.released, job)
	return nil
}

func TestRunnerTick(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		locker      *fakeLocker
		wantRuns    int32
		wantRelease int
	}{
		{name: "no_locker", locker: nil, wantRuns: 1},
		{name: "granted", locker: &fakeLocker{grant: true}, wantRuns: 1, wantRelease: 1},
		{name: "held_elsewhere", locker: &fakeLocker{grant: false}, wantRuns: 0},
		{name: "redis_down", locker: &fakeLocker{err: errors.New("dial tcp")}, wantRuns: 0},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var runs int32
			job := Job{Name: "job", Interval: time.Minute, Run: func(context.Context) error {
				atomic.AddInt32(&runs, 1)
				return nil
			}}
			var r *Runner
			if tt.locker == nil {
				r = NewRunner(nil, quietLogger(), job)
			} else {
				r = NewRunner(tt.locker, quietLogger(), job)
			}
			r.Tick(context.Background(), job)

			if got := atomic.LoadInt32(&runs); got != tt.wantRuns {
				t.Fatalf("expected %d runs, got %d", tt.wantRuns, got)
			}
			if tt.locker != nil && len(tt.locker.released) != tt.wantRelease {
				t.Fatalf("expected %d releases, got %d", tt.wantRelease, len(tt.locker.released))
			}
		})
	}
}

func TestRunnerStopsOnCancel(t *testing.T) {
	t.Parallel()

	var runs int32
	ran := make(chan struct{}, 1)
	job := Job{Name: "tick", Interval: 5 * time.Millisecond, Run: func(context.Context) error {
		if atomic.AddInt32(&runs, 1) == 1 {
			ran <- struct{}{}
		}
		return nil
	}}

	ctx, cancel := context.WithCancel(context.Background())
	r := NewRunner(nil, quietLogger(), job)
	r.Start(ctx)

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatalf("job never ran")
	}
	cancel()

	done := make(chan struct{})
	go func() {
		r.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("runner did not stop after cancel")
	}
}
