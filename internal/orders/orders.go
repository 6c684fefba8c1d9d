package orders

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("order not found")

type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type Manager struct {
	Name       string `json:"name"`
	Phone      string `json:"phone"`
	Department string `json:"department"`
	Role       string `json:"role"`
}

// Delivery is the static metadata the order collaborator supplies for the
// tracking view; the live position comes from the GPS upstream, never from
// here.
type Delivery struct {
	OrderID           int64     `json:"orderId"`
	Status            string    `json:"status"`
	EstimatedDelivery time.Time `json:"estimatedDeliveryTime"`
	Destination       LatLng    `json:"destination"`
	Manager           Manager   `json:"managerInfo"`
}

// Store is the read side of the order-management collaborator.
type Store interface {
	Delivery(ctx context.Context, orderID int64) (*Delivery, error)
}
