package availability

import (
	"context"
	"errors"
	"testing"

	"github.com/Kwendataxi/kwenda-sub003/internal/models"
	"github.com/Kwendataxi/kwenda-sub003/internal/presence"
)

type fakeActive struct{ counts map[string]int }

func (f *fakeActive) ActiveCountFor(driverID string) int { return f.counts[driverID] }

func newTestService(counts map[string]int) *Service {
	if counts == nil {
		counts = map[string]int{}
	}
	return NewService(presence.NewIndex(), &fakeActive{counts: counts}, nil)
}

func TestOnlineRequiresLocation(t *testing.T) {
	s := newTestService(nil)
	err := s.SetOnline(context.Background(), "d1", models.Coord{}, 4.5)
	if !errors.Is(err, ErrNoLocation) {
		t.Fatalf("want ErrNoLocation, got %v", err)
	}
	if _, ok := s.Status("d1"); ok {
		t.Fatal("driver state must be unchanged")
	}
}

func TestUnavailableRefusedWithActiveOrders(t *testing.T) {
	for _, n := range []int{1, 2, 5} {
		s := newTestService(map[string]int{"d1": n})
		if err := s.SetOnline(context.Background(), "d1", models.Coord{Lat: 4.05, Lon: 9.70}, 4.5); err != nil {
			t.Fatal(err)
		}
		err := s.SetAvailable(context.Background(), "d1", false)
		if !errors.Is(err, ErrActiveOrders) {
			t.Fatalf("active=%d: want ErrActiveOrders, got %v", n, err)
		}
		d, _ := s.Status("d1")
		if !d.Available {
			t.Fatalf("active=%d: availability must be unchanged", n)
		}
	}
}

func TestOfflineRefusedWithActiveOrders(t *testing.T) {
	s := newTestService(map[string]int{"d1": 1})
	if err := s.SetOnline(context.Background(), "d1", models.Coord{Lat: 4.05, Lon: 9.70}, 4.5); err != nil {
		t.Fatal(err)
	}
	if err := s.SetOffline(context.Background(), "d1"); !errors.Is(err, ErrActiveOrders) {
		t.Fatalf("want ErrActiveOrders, got %v", err)
	}
}

func TestAvailableToggleWhenIdle(t *testing.T) {
	s := newTestService(nil)
	if err := s.SetAvailable(context.Background(), "d1", true); !errors.Is(err, ErrOffline) {
		t.Fatalf("want ErrOffline, got %v", err)
	}
	if err := s.SetOnline(context.Background(), "d1", models.Coord{Lat: 4.05, Lon: 9.70}, 4.5); err != nil {
		t.Fatal(err)
	}
	if err := s.SetAvailable(context.Background(), "d1", false); err != nil {
		t.Fatal(err)
	}
	d, _ := s.Status("d1")
	if d.Available {
		t.Fatal("expected unavailable")
	}
	if err := s.SetOffline(context.Background(), "d1"); err != nil {
		t.Fatal(err)
	}
	d, _ = s.Status("d1")
	if d.Online {
		t.Fatal("expected offline")
	}
}
