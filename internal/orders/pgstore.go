package orders

import (
	"context"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/phuslu/log"
)

type PgStore struct {
	db  *pgxpool.Pool
	log log.Logger
}

func NewPgStore(db *pgxpool.Pool) *PgStore {
	s := &PgStore{}
	s.db = db
	s.log = log.DefaultLogger
	s.log.Context = log.NewContext(nil).Str("module", "order-store").Value()
	return s
}

func (s *PgStore) Delivery(ctx context.Context, orderID int64) (*Delivery, error) {
	d := &Delivery{OrderID: orderID}
	selectSql := `SELECT o.status, o.estimated_delivery, o.dest_latitude, o.dest_longitude,
	m.name, m.phone, m.department, m.role
	FROM "order" o JOIN manager m ON o.manager_id = m.id WHERE o.id = $1`
	err := s.db.QueryRow(ctx, selectSql, orderID).Scan(
		&d.Status, &d.EstimatedDelivery, &d.Destination.Lat, &d.Destination.Lng,
		&d.Manager.Name, &d.Manager.Phone, &d.Manager.Department, &d.Manager.Role)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		s.log.Error().Err(err).Int64("order_id", orderID).Msg("error while querying delivery")
		return nil, err
	}
	return d, nil
}
