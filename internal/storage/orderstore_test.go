package storage

import (
	"testing"

	"github.com/Kwendataxi/kwenda-sub003/internal/lifecycle"
	"github.com/Kwendataxi/kwenda-sub003/internal/models"
)

func TestAssignDriverSetsFirstStatus(t *testing.T) {
	m := NewMemoryStore()
	if err := m.SaveOrder(&models.Order{ID: "o1", Kind: models.KindTaxi, Status: "requested"}); err != nil {
		t.Fatal(err)
	}
	o, err := m.AssignDriver("o1", "d1")
	if err != nil {
		t.Fatal(err)
	}
	if o.Status != lifecycle.StatusDriverAssigned {
		t.Fatalf("got status %q", o.Status)
	}
	if o.DriverID != "d1" || o.Version != 1 {
		t.Fatalf("got %+v", o)
	}
}

func TestApplyStatusDiscardsStalePush(t *testing.T) {
	m := NewMemoryStore()
	_ = m.SaveOrder(&models.Order{ID: "o1", Kind: models.KindDelivery, Status: lifecycle.StatusPickedUp, Version: 3})

	applied, err := m.ApplyStatus(models.StatusEvent{OrderID: "o1", Status: lifecycle.StatusInTransit, Version: 2})
	if err != nil {
		t.Fatal(err)
	}
	if applied {
		t.Fatal("stale push must not apply")
	}
	o, _ := m.Get("o1")
	if o.Status != lifecycle.StatusPickedUp {
		t.Fatalf("status changed to %q", o.Status)
	}

	applied, err = m.ApplyStatus(models.StatusEvent{OrderID: "o1", Status: lifecycle.StatusInTransit, Version: 4})
	if err != nil || !applied {
		t.Fatalf("newer push should apply: applied=%v err=%v", applied, err)
	}
	o, _ = m.Get("o1")
	if o.Status != lifecycle.StatusInTransit || o.Version != 4 {
		t.Fatalf("got %+v", o)
	}
}

func TestGetUnknownOrder(t *testing.T) {
	m := NewMemoryStore()
	if _, err := m.Get("missing"); err != ErrNotFound {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}
