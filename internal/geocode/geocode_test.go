package geocode

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Kwendataxi/kwenda-sub003/internal/models"
)

type fakeResolver struct {
	calls int
	coord models.Coord
	err   error
}

func (f *fakeResolver) Resolve(ctx context.Context, address string) (models.Coord, error) {
	f.calls++
	return f.coord, f.err
}

func TestCachedResolverHitsCacheSecondTime(t *testing.T) {
	f := &fakeResolver{coord: models.Coord{Lat: 4.05, Lon: 9.70}}
	r := &CachedResolver{Inner: f, Cache: NewCache(time.Minute)}

	for i := 0; i < 3; i++ {
		c, err := r.Resolve(context.Background(), "Marche Central, Douala")
		if err != nil {
			t.Fatal(err)
		}
		if c != f.coord {
			t.Fatalf("got %v", c)
		}
	}
	if f.calls != 1 {
		t.Fatalf("expected 1 upstream call, got %d", f.calls)
	}
}

func TestFillCoordsSkipsGeocodedPlaces(t *testing.T) {
	f := &fakeResolver{coord: models.Coord{Lat: 1, Lon: 2}}
	o := &models.Order{
		Pickup:  models.Place{Address: "A", Coord: models.Coord{Lat: 9, Lon: 9}},
		Dropoff: models.Place{Address: "B"},
	}
	if err := FillCoords(context.Background(), f, o); err != nil {
		t.Fatal(err)
	}
	if f.calls != 1 {
		t.Fatalf("expected 1 call, got %d", f.calls)
	}
	if o.Pickup.Coord.Lat != 9 || o.Dropoff.Coord.Lat != 1 {
		t.Fatalf("unexpected coords: %+v", o)
	}
}

func TestFillCoordsPropagatesFailure(t *testing.T) {
	f := &fakeResolver{err: ErrNoResult}
	o := &models.Order{Pickup: models.Place{Address: "nowhere"}}
	err := FillCoords(context.Background(), f, o)
	if !errors.Is(err, ErrNoResult) {
		t.Fatalf("want ErrNoResult, got %v", err)
	}
}
