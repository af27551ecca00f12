package presence

import (
	"testing"

	"github.com/Kwendataxi/kwenda-sub003/internal/models"
)

func TestHaversineZero(t *testing.T) {
	if d := Haversine(0, 0, 0, 0); d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestNearbySkipsUnavailable(t *testing.T) {
	idx := NewIndex()
	idx.Upsert(models.Driver{ID: "a", Loc: models.Coord{Lat: 4.05, Lon: 9.70}, Online: true, Available: true})
	idx.Upsert(models.Driver{ID: "b", Loc: models.Coord{Lat: 4.05, Lon: 9.70}, Online: true, Available: false})
	idx.Upsert(models.Driver{ID: "c", Loc: models.Coord{Lat: 4.05, Lon: 9.70}, Online: false, Available: true})

	got := idx.Nearby(4.05, 9.70, 10)
	if len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("expected only driver a, got %v", got)
	}
}

func TestNearbyOrdersByDistance(t *testing.T) {
	idx := NewIndex()
	idx.Upsert(models.Driver{ID: "far", Loc: models.Coord{Lat: 4.10, Lon: 9.80}, Online: true, Available: true})
	idx.Upsert(models.Driver{ID: "near", Loc: models.Coord{Lat: 4.051, Lon: 9.701}, Online: true, Available: true})

	got := idx.Nearby(4.05, 9.70, 1)
	if len(got) != 1 || got[0].ID != "near" {
		t.Fatalf("expected nearest driver, got %v", got)
	}
}
