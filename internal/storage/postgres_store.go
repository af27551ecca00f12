package storage

import (
	"database/sql"
	"time"

	_ "github.com/lib/pq"

	"github.com/Kwendataxi/kwenda-sub003/internal/lifecycle"
	"github.com/Kwendataxi/kwenda-sub003/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

const orderColumns = `id, kind, customer_id, driver_id, pickup_address, pickup_lat, pickup_lon,
	dropoff_address, dropoff_lat, dropoff_lon, contact_name, contact_phone,
	price, status, version, pickup_only, created_at, updated_at`

func (p *PostgresStore) SaveOrder(o *models.Order) error {
	now := time.Now()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now
	_, err := p.db.Exec(`INSERT INTO orders(`+orderColumns+`)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
		ON CONFLICT (id) DO UPDATE SET
			driver_id=EXCLUDED.driver_id, status=EXCLUDED.status,
			version=EXCLUDED.version, updated_at=EXCLUDED.updated_at`,
		o.ID, o.Kind, o.CustomerID, o.DriverID,
		o.Pickup.Address, o.Pickup.Coord.Lat, o.Pickup.Coord.Lon,
		o.Dropoff.Address, o.Dropoff.Coord.Lat, o.Dropoff.Coord.Lon,
		o.Contact.Name, o.Contact.Phone,
		o.Price, o.Status, o.Version, o.PickupOnly, o.CreatedAt, o.UpdatedAt)
	return err
}

func (p *PostgresStore) Get(id string) (*models.Order, error) {
	row := p.db.QueryRow(`SELECT `+orderColumns+` FROM orders WHERE id=$1`, id)
	return scanOrder(row)
}

func (p *PostgresStore) AssignDriver(orderID, driverID string) (*models.Order, error) {
	o, err := p.Get(orderID)
	if err != nil {
		return nil, err
	}
	status := o.Status
	if st, ok := lifecycle.Assigned(o.Kind); ok {
		status = st
	}
	row := p.db.QueryRow(`UPDATE orders
		SET driver_id=$1, status=$2, version=version+1, updated_at=$3
		WHERE id=$4 RETURNING `+orderColumns,
		driverID, status, time.Now(), orderID)
	return scanOrder(row)
}

func (p *PostgresStore) UpdateStatus(orderID, status string) (*models.Order, error) {
	row := p.db.QueryRow(`UPDATE orders
		SET status=$1, version=version+1, updated_at=$2
		WHERE id=$3 RETURNING `+orderColumns,
		status, time.Now(), orderID)
	return scanOrder(row)
}

func (p *PostgresStore) ApplyStatus(ev models.StatusEvent) (bool, error) {
	res, err := p.db.Exec(`UPDATE orders
		SET status=$1, version=$2, updated_at=$3
		WHERE id=$4 AND version < $2`,
		ev.Status, ev.Version, ev.At, ev.OrderID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (p *PostgresStore) SaveRating(r models.Rating) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	_, err := p.db.Exec(`INSERT INTO ratings(order_id, stars, comment, created_at) VALUES($1,$2,$3,$4)`,
		r.OrderID, r.Stars, r.Comment, r.CreatedAt)
	return err
}

func (p *PostgresStore) OrdersByDriver(driverID string) ([]*models.Order, error) {
	rows, err := p.db.Query(`SELECT `+orderColumns+` FROM orders WHERE driver_id=$1 ORDER BY created_at DESC`, driverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*models.Order, error) {
	var o models.Order
	var driverID sql.NullString
	err := row.Scan(
		&o.ID, &o.Kind, &o.CustomerID, &driverID,
		&o.Pickup.Address, &o.Pickup.Coord.Lat, &o.Pickup.Coord.Lon,
		&o.Dropoff.Address, &o.Dropoff.Coord.Lat, &o.Dropoff.Coord.Lon,
		&o.Contact.Name, &o.Contact.Phone,
		&o.Price, &o.Status, &o.Version, &o.PickupOnly, &o.CreatedAt, &o.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	o.DriverID = driverID.String
	return &o, nil
}
