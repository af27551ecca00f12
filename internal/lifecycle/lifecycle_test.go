package lifecycle

import (
	"errors"
	"testing"

	"github.com/Kwendataxi/kwenda-sub003/internal/models"
)

func TestStepsExactlyOneCurrent(t *testing.T) {
	cases := []struct {
		kind       models.Kind
		status     string
		pickupOnly bool
	}{
		{models.KindTaxi, StatusDriverAssigned, false},
		{models.KindTaxi, StatusInProgress, false},
		{models.KindDelivery, StatusPickedUp, false},
		{models.KindDelivery, StatusDelivered, false},
		{models.KindMarketplace, StatusPreparing, false},
		{models.KindMarketplace, StatusReadyForPickup, true},
	}
	for _, c := range cases {
		steps, err := Steps(c.kind, c.status, c.pickupOnly)
		if err != nil {
			t.Fatalf("%s/%s: %v", c.kind, c.status, err)
		}
		current := -1
		for i, s := range steps {
			if s.Current {
				if current != -1 {
					t.Fatalf("%s/%s: more than one current step", c.kind, c.status)
				}
				current = i
			}
		}
		if current == -1 {
			t.Fatalf("%s/%s: no current step", c.kind, c.status)
		}
		for i, s := range steps {
			want := i <= current
			if s.Completed != want {
				t.Fatalf("%s/%s: step %d completed=%v, want %v", c.kind, c.status, i, s.Completed, want)
			}
		}
	}
}

func TestTerminalStatusHasNoAction(t *testing.T) {
	cases := []struct {
		kind   models.Kind
		status string
	}{
		{models.KindTaxi, StatusCompleted},
		{models.KindTaxi, StatusCancelled},
		{models.KindDelivery, StatusDelivered},
		{models.KindDelivery, StatusCancelled},
		{models.KindMarketplace, StatusCompleted},
		{models.KindMarketplace, StatusCancelled},
	}
	for _, c := range cases {
		_, _, ok, err := Next(c.kind, c.status, false)
		if err != nil {
			t.Fatalf("%s/%s: %v", c.kind, c.status, err)
		}
		if ok {
			t.Fatalf("%s/%s: expected no forward action", c.kind, c.status)
		}
		if !IsTerminal(c.kind, c.status) {
			t.Fatalf("%s/%s: expected terminal", c.kind, c.status)
		}
	}
}

func TestNextSingleForwardTransition(t *testing.T) {
	next, action, ok, err := Next(models.KindDelivery, StatusInTransit, false)
	if err != nil || !ok {
		t.Fatalf("unexpected: ok=%v err=%v", ok, err)
	}
	if next != StatusDelivered || action != "complete delivery" {
		t.Fatalf("got next=%q action=%q", next, action)
	}
}

func TestUnknownStatusIsError(t *testing.T) {
	_, err := Steps(models.KindTaxi, "warp_speed", false)
	var unknown *ErrUnknownStatus
	if !errors.As(err, &unknown) {
		t.Fatalf("want ErrUnknownStatus, got %v", err)
	}
	if _, _, _, err := Next(models.KindDelivery, "warp_speed", false); err == nil {
		t.Fatal("want error for unknown status")
	}
}

func TestDeliveryConfirmedAlias(t *testing.T) {
	steps, err := Steps(models.KindDelivery, StatusConfirmed, false)
	if err != nil {
		t.Fatal(err)
	}
	if !steps[0].Current {
		t.Fatal("confirmed should map onto driver_assigned")
	}
}

func TestMarketplacePickupBranchSkipsTransit(t *testing.T) {
	seq, err := Sequence(models.KindMarketplace, true)
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range seq {
		if s == StatusInTransit || s == StatusDelivered {
			t.Fatalf("pickup-only sequence contains %s", s)
		}
	}
	next, _, ok, err := Next(models.KindMarketplace, StatusReadyForPickup, true)
	if err != nil || !ok || next != StatusCompleted {
		t.Fatalf("ready_for_pickup should lead to completed, got %q ok=%v err=%v", next, ok, err)
	}
}

func TestRequestedShowsBareSequence(t *testing.T) {
	steps, err := Steps(models.KindTaxi, StatusRequested, false)
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range steps {
		if s.Completed || s.Current {
			t.Fatalf("pre-assignment steps must all be pending, got %+v", s)
		}
	}
	if _, _, ok, err := Next(models.KindTaxi, StatusRequested, false); err != nil || ok {
		t.Fatalf("no user action exists before assignment: ok=%v err=%v", ok, err)
	}
	if IsTerminal(models.KindTaxi, StatusRequested) {
		t.Fatal("requested is not terminal")
	}
}

func TestCanTransition(t *testing.T) {
	if !CanTransition(models.KindTaxi, StatusDriverAssigned, StatusDriverArrived, false) {
		t.Fatal("forward step should be legal")
	}
	if CanTransition(models.KindTaxi, StatusDriverAssigned, StatusInProgress, false) {
		t.Fatal("skipping a step should be illegal")
	}
	if CanTransition(models.KindTaxi, StatusDriverArrived, StatusDriverAssigned, false) {
		t.Fatal("backward step should be illegal")
	}
	if !CanTransition(models.KindDelivery, StatusInTransit, StatusCancelled, false) {
		t.Fatal("cancel from non-terminal should be legal")
	}
	if CanTransition(models.KindDelivery, StatusDelivered, StatusCancelled, false) {
		t.Fatal("cancel after delivery should be illegal")
	}
}
