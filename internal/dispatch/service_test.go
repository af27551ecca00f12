package dispatch

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Kwendataxi/kwenda-sub003/internal/lifecycle"
	"github.com/Kwendataxi/kwenda-sub003/internal/models"
	"github.com/Kwendataxi/kwenda-sub003/internal/storage"
)

type fakePresence struct{ drivers []models.Driver }

func (f *fakePresence) Nearby(lat, lon float64, limit int) []models.Driver { return f.drivers }
func (f *fakePresence) Upsert(d models.Driver)                             {}

type recordingNotifier struct {
	proposed []models.Offer
	resolved []string // "offerID:outcome"
	statuses []models.StatusEvent
}

func (r *recordingNotifier) OfferProposed(off models.Offer) error {
	r.proposed = append(r.proposed, off)
	return nil
}

func (r *recordingNotifier) OfferResolved(offerID, orderID, outcome string) error {
	r.resolved = append(r.resolved, offerID+":"+outcome)
	return nil
}

func (r *recordingNotifier) OrderStatus(ev models.StatusEvent) error {
	r.statuses = append(r.statuses, ev)
	return nil
}

func newTestService(t *testing.T) (*Service, *storage.MemoryStore, *recordingNotifier) {
	t.Helper()
	store := storage.NewMemoryStore()
	pres := &fakePresence{drivers: []models.Driver{
		{ID: "d1", Loc: models.Coord{Lat: 4.05, Lon: 9.70}, Rating: 4.8, Online: true, Available: true},
	}}
	notify := &recordingNotifier{}
	return NewService(store, pres, notify, nil), store, notify
}

func seedOrder(t *testing.T, store *storage.MemoryStore, id string, kind models.Kind) *models.Order {
	t.Helper()
	o := &models.Order{
		ID:         id,
		Kind:       kind,
		CustomerID: "c1",
		Pickup:     models.Place{Address: "Bonanjo", Coord: models.Coord{Lat: 4.05, Lon: 9.69}},
		Dropoff:    models.Place{Address: "Akwa", Coord: models.Coord{Lat: 4.06, Lon: 9.71}},
		Price:      5000,
		Status:     "requested",
	}
	if err := store.SaveOrder(o); err != nil {
		t.Fatal(err)
	}
	return o
}

func TestAcceptMovesOfferToActiveOrder(t *testing.T) {
	s, store, _ := newTestService(t)
	o := seedOrder(t, store, "o1", models.KindTaxi)

	off, err := s.Propose(context.Background(), o)
	if err != nil {
		t.Fatal(err)
	}
	if off.Urgency != models.UrgencyHigh {
		t.Fatalf("short pickup distance should be high urgency, got %s", off.Urgency)
	}

	got, err := s.Accept(context.Background(), "d1", off.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != "o1" || got.Status != lifecycle.StatusDriverAssigned {
		t.Fatalf("got %+v", got)
	}
	if len(s.Pending()) != 0 {
		t.Fatal("offer should be gone from pending")
	}
	if _, ok := s.ActiveOrder("o1"); !ok {
		t.Fatal("order should be active")
	}
}

func TestAcceptFailureLeavesPendingUnchanged(t *testing.T) {
	s, store, _ := newTestService(t)
	o := seedOrder(t, store, "o1", models.KindTaxi)
	off, err := s.Propose(context.Background(), o)
	if err != nil {
		t.Fatal(err)
	}

	// Point the offer at an order the store does not have.
	s.mu.Lock()
	s.byOffer[off.ID].OrderID = "ghost"
	s.mu.Unlock()

	if _, err := s.Accept(context.Background(), "d1", off.ID); err == nil {
		t.Fatal("expected error")
	}
	if len(s.Pending()) != 1 {
		t.Fatal("pending must be unchanged after a failed accept")
	}
	if len(s.Active()) != 0 {
		t.Fatal("nothing should be active")
	}
}

func TestRejectAfterAcceptIsNoOp(t *testing.T) {
	s, store, _ := newTestService(t)
	o := seedOrder(t, store, "o1", models.KindTaxi)
	off, _ := s.Propose(context.Background(), o)

	if _, err := s.Accept(context.Background(), "d1", off.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.Reject(context.Background(), "d1", off.ID); err != nil {
		t.Fatalf("second resolution must be a no-op, got %v", err)
	}
	if _, ok := s.ActiveOrder("o1"); !ok {
		t.Fatal("accepted order must survive the late reject")
	}
}

func TestRejectByWrongDriverIsRefused(t *testing.T) {
	s, store, _ := newTestService(t)
	o := seedOrder(t, store, "o1", models.KindTaxi)
	off, err := s.Propose(context.Background(), o)
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Reject(context.Background(), "d2", off.ID); !errors.Is(err, ErrWrongDriver) {
		t.Fatalf("want ErrWrongDriver, got %v", err)
	}
	if len(s.Pending()) != 1 {
		t.Fatal("offer must stay pending for its addressee")
	}
	if _, err := s.Accept(context.Background(), "d1", off.ID); err != nil {
		t.Fatalf("addressee must still be able to accept: %v", err)
	}
}

func TestExpiryFiresExactlyOnce(t *testing.T) {
	s, store, notify := newTestService(t)
	o := seedOrder(t, store, "o1", models.KindTaxi)

	base := time.Now()
	s.now = func() time.Time { return base }
	s.OfferTTL = 30 * time.Second
	if _, err := s.Propose(context.Background(), o); err != nil {
		t.Fatal(err)
	}

	s.now = func() time.Time { return base.Add(29 * time.Second) }
	if n := s.ExpireOverdue(); n != 0 {
		t.Fatalf("expired early: %d", n)
	}

	s.now = func() time.Time { return base.Add(30 * time.Second) }
	if n := s.ExpireOverdue(); n != 1 {
		t.Fatalf("expected 1 expiry, got %d", n)
	}
	if n := s.ExpireOverdue(); n != 0 {
		t.Fatalf("second sweep must be a no-op, got %d", n)
	}

	expired := 0
	for _, r := range notify.resolved {
		if strings.HasSuffix(r, ":"+OutcomeExpired) {
			expired++
		}
	}
	if expired != 1 {
		t.Fatalf("expected exactly one expiry notice, got %d", expired)
	}
}

func TestAcceptAfterDeadlineExpiresOffer(t *testing.T) {
	s, store, notify := newTestService(t)
	o := seedOrder(t, store, "o1", models.KindTaxi)

	base := time.Now()
	s.now = func() time.Time { return base }
	s.OfferTTL = 30 * time.Second
	off, err := s.Propose(context.Background(), o)
	if err != nil {
		t.Fatal(err)
	}

	// No sweep has run; only the wall-clock deadline stands between the
	// driver and a stale accept.
	s.now = func() time.Time { return base.Add(31 * time.Second) }
	if _, err := s.Accept(context.Background(), "d1", off.ID); !errors.Is(err, ErrOfferGone) {
		t.Fatalf("want ErrOfferGone, got %v", err)
	}
	if len(s.Pending()) != 0 {
		t.Fatal("overdue offer must be removed on the failed accept")
	}
	if len(s.Active()) != 0 {
		t.Fatal("nothing may become active past the deadline")
	}

	// The accept resolved the offer, so the next sweep finds nothing and no
	// second resolution goes out.
	if n := s.ExpireOverdue(); n != 0 {
		t.Fatalf("sweep after the accept must be a no-op, got %d", n)
	}
	var expired, accepted int
	for _, r := range notify.resolved {
		switch {
		case strings.HasSuffix(r, ":"+OutcomeExpired):
			expired++
		case strings.HasSuffix(r, ":"+OutcomeAccepted):
			accepted++
		}
	}
	if expired != 1 || accepted != 0 {
		t.Fatalf("want exactly one expired resolution, got expired=%d accepted=%d", expired, accepted)
	}
}

func TestCompleteDeliveryRemovesFromActive(t *testing.T) {
	s, store, _ := newTestService(t)
	o := seedOrder(t, store, "o1", models.KindDelivery)
	off, _ := s.Propose(context.Background(), o)
	if _, err := s.Accept(context.Background(), "d1", off.ID); err != nil {
		t.Fatal(err)
	}

	// driver_assigned -> picked_up -> in_transit
	for i := 0; i < 2; i++ {
		if _, err := s.Advance(context.Background(), "o1"); err != nil {
			t.Fatal(err)
		}
	}
	cur, _ := s.ActiveOrder("o1")
	if cur.Status != lifecycle.StatusInTransit {
		t.Fatalf("got %q", cur.Status)
	}

	done, err := s.Complete(context.Background(), "o1")
	if err != nil {
		t.Fatal(err)
	}
	if done.Status != lifecycle.StatusDelivered {
		t.Fatalf("got %q", done.Status)
	}
	if _, ok := s.ActiveOrder("o1"); ok {
		t.Fatal("delivered order must leave the active set")
	}
	stored, _ := store.Get("o1")
	if stored.Status != lifecycle.StatusDelivered {
		t.Fatalf("store has %q", stored.Status)
	}
}

func TestCompleteRefusesNonTerminalStep(t *testing.T) {
	s, store, _ := newTestService(t)
	o := seedOrder(t, store, "o1", models.KindDelivery)
	off, _ := s.Propose(context.Background(), o)
	if _, err := s.Accept(context.Background(), "d1", off.ID); err != nil {
		t.Fatal(err)
	}
	// driver_assigned -> picked_up is not terminal
	if _, err := s.Complete(context.Background(), "o1"); !errors.Is(err, ErrNotFinal) {
		t.Fatalf("want ErrNotFinal, got %v", err)
	}
}

func TestCancelReleasesHold(t *testing.T) {
	s, store, _ := newTestService(t)
	pay := &fakeProcessor{}
	s.Pay = pay
	o := seedOrder(t, store, "o1", models.KindTaxi)
	off, _ := s.Propose(context.Background(), o)
	if _, err := s.Accept(context.Background(), "d1", off.ID); err != nil {
		t.Fatal(err)
	}
	if pay.holds != 1 {
		t.Fatalf("expected hold, got %d", pay.holds)
	}
	got, err := s.Cancel(context.Background(), "o1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != lifecycle.StatusCancelled {
		t.Fatalf("got %q", got.Status)
	}
	if pay.released != 1 || pay.captured != 0 {
		t.Fatalf("expected release, got released=%d captured=%d", pay.released, pay.captured)
	}
}

func TestVersionIncreasesAcrossTransitions(t *testing.T) {
	s, store, notify := newTestService(t)
	o := seedOrder(t, store, "o1", models.KindTaxi)
	off, _ := s.Propose(context.Background(), o)
	if _, err := s.Accept(context.Background(), "d1", off.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Advance(context.Background(), "o1"); err != nil {
		t.Fatal(err)
	}
	if len(notify.statuses) < 2 {
		t.Fatalf("expected status events, got %d", len(notify.statuses))
	}
	last := notify.statuses[len(notify.statuses)-1]
	prev := notify.statuses[len(notify.statuses)-2]
	if last.Version <= prev.Version {
		t.Fatalf("versions not monotonic: %d then %d", prev.Version, last.Version)
	}
}

func TestNilNotifierDefaultsToNop(t *testing.T) {
	store := storage.NewMemoryStore()
	pres := &fakePresence{drivers: []models.Driver{
		{ID: "d1", Loc: models.Coord{Lat: 4.05, Lon: 9.70}, Rating: 4.8, Online: true, Available: true},
	}}
	s := NewService(store, pres, nil, nil)
	o := seedOrder(t, store, "o1", models.KindTaxi)

	off, err := s.Propose(context.Background(), o)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Accept(context.Background(), "d1", off.ID); err != nil {
		t.Fatal(err)
	}
}

type fakeProcessor struct {
	holds    int
	captured int
	released int
}

func (f *fakeProcessor) Hold(ctx context.Context, amount int64, currency, customerID string) (string, error) {
	f.holds++
	return "hold-1", nil
}

func (f *fakeProcessor) Capture(ctx context.Context, holdID string) error {
	f.captured++
	return nil
}

func (f *fakeProcessor) Release(ctx context.Context, holdID string) error {
	f.released++
	return nil
}
