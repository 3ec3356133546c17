// Package portal wraps the inventory, order and delivery endpoints behind permission checks.
package portal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/and161185/toollink/internal/errs"
	"github.com/and161185/toollink/internal/gate"
	"github.com/and161185/toollink/internal/model"
	"go.uber.org/zap"
)

// Doer performs an authenticated JSON call; backend.Client satisfies it.
type Doer interface {
	Do(ctx context.Context, method, path string, in, out any) error
}

// InventoryItem is a stock record in a warehouse.
type InventoryItem struct {
	ID            string  `json:"id,omitempty"`
	Name          string  `json:"name"`
	SKU           string  `json:"sku"`
	Category      string  `json:"category,omitempty"`
	Quantity      int     `json:"quantity"`
	Unit          string  `json:"unit,omitempty"`
	Price         float64 `json:"price"`
	WarehouseCode string  `json:"warehouseCode,omitempty"`
}

// OrderLine is one item of an order.
type OrderLine struct {
	ItemID   string  `json:"itemId"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
}

// Order is a customer order awaiting or past approval.
type Order struct {
	ID         string       `json:"id"`
	CustomerID model.UserID `json:"customerId"`
	Status     string       `json:"status"`
	Total      float64      `json:"total"`
	Items      []OrderLine  `json:"items,omitempty"`
	CreatedAt  time.Time    `json:"createdAt"`
}

// Delivery tracks the shipment of an order.
type Delivery struct {
	ID        string         `json:"id"`
	OrderID   string         `json:"orderId"`
	DriverID  model.UserID   `json:"driverId,omitempty"`
	Status    DeliveryStatus `json:"status"`
	Address   string         `json:"address,omitempty"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// DeliveryStatus is a step of the delivery workflow. The server owns the transition rules.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryAssigned  DeliveryStatus = "assigned"
	DeliveryPickedUp  DeliveryStatus = "picked_up"
	DeliveryInTransit DeliveryStatus = "in_transit"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
)

var deliveryStatuses = []DeliveryStatus{
	DeliveryPending, DeliveryAssigned, DeliveryPickedUp, DeliveryInTransit, DeliveryDelivered, DeliveryFailed,
}

// ErrUnknownStatus is returned for a delivery status outside the workflow.
var ErrUnknownStatus = errors.New("portal: unknown delivery status")

// ParseDeliveryStatus validates s.
func ParseDeliveryStatus(s string) (DeliveryStatus, error) {
	st := DeliveryStatus(s)
	if !slices.Contains(deliveryStatuses, st) {
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
	}
	return st, nil
}

type envelope[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data"`
	Error   string `json:"error,omitempty"`
}

// Options configures a Service.
type Options struct {
	// OnUnauthorized runs when the backend rejects the token.
	OnUnauthorized func()
	Logger         *zap.Logger
}

// Service is the portal API as seen by one session.
type Service struct {
	do   Doer
	gate *gate.Gate
	opts Options
	log  *zap.Logger
}

// New returns a Service that checks every call against g before sending it through do.
func New(do Doer, g *gate.Gate, opts Options) *Service {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{do: do, gate: g, opts: opts, log: log}
}

func (s *Service) require(ctx context.Context, perm model.Permission) error {
	res := s.gate.Check(ctx, gate.Requirement{Permissions: []model.Permission{perm}})
	switch res.Decision {
	case gate.Grant:
		return nil
	case gate.RedirectToLogin:
		return fmt.Errorf("%s: login required: %w", perm, errs.ErrForbidden)
	default:
		return fmt.Errorf("%s: %w", perm, errs.ErrForbidden)
	}
}

func (s *Service) call(ctx context.Context, perm model.Permission, method, path string, in, out any) error {
	if err := s.require(ctx, perm); err != nil {
		return err
	}
	err := s.do.Do(ctx, method, path, in, out)
	if errors.Is(err, errs.ErrUnauthorized) {
		s.log.Info("token rejected by backend", zap.String("path", path))
		if s.opts.OnUnauthorized != nil {
			s.opts.OnUnauthorized()
		}
	}
	return err
}

// ListInventory requires inventory.view.
func (s *Service) ListInventory(ctx context.Context) ([]InventoryItem, error) {
	var out envelope[[]InventoryItem]
	if err := s.call(ctx, model.PermInventoryView, http.MethodGet, "/inventory", nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// CreateInventoryItem requires inventory.create.
func (s *Service) CreateInventoryItem(ctx context.Context, item InventoryItem) (InventoryItem, error) {
	if item.Name == "" || item.SKU == "" {
		return InventoryItem{}, errors.New("portal: inventory item needs a name and a sku")
	}
	if item.Quantity < 0 {
		return InventoryItem{}, errors.New("portal: negative quantity")
	}
	var out envelope[InventoryItem]
	if err := s.call(ctx, model.PermInventoryCreate, http.MethodPost, "/inventory", item, &out); err != nil {
		return InventoryItem{}, err
	}
	return out.Data, nil
}

// ListOrders requires orders.view.
func (s *Service) ListOrders(ctx context.Context) ([]Order, error) {
	var out envelope[[]Order]
	if err := s.call(ctx, model.PermOrdersView, http.MethodGet, "/orders", nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// ApproveOrder requires orders.approve.
func (s *Service) ApproveOrder(ctx context.Context, id string) (Order, error) {
	if id == "" {
		return Order{}, errors.New("portal: empty order id")
	}
	var out envelope[Order]
	if err := s.call(ctx, model.PermOrdersApprove, http.MethodPut, "/orders/"+url.PathEscape(id)+"/approve", nil, &out); err != nil {
		return Order{}, err
	}
	return out.Data, nil
}

// ListDeliveries requires deliveries.view.
func (s *Service) ListDeliveries(ctx context.Context) ([]Delivery, error) {
	var out envelope[[]Delivery]
	if err := s.call(ctx, model.PermDeliveriesView, http.MethodGet, "/deliveries", nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// ProposeDeliveryStatus asks the server to move a delivery to status. The server may refuse the transition.
func (s *Service) ProposeDeliveryStatus(ctx context.Context, id string, status DeliveryStatus, note string) (Delivery, error) {
	if id == "" {
		return Delivery{}, errors.New("portal: empty delivery id")
	}
	if _, err := ParseDeliveryStatus(string(status)); err != nil {
		return Delivery{}, err
	}
	body := struct {
		Status DeliveryStatus `json:"status"`
		Note   string         `json:"note,omitempty"`
	}{status, note}
	var out envelope[Delivery]
	if err := s.call(ctx, model.PermDeliveriesUpdateStatus, http.MethodPut, "/deliveries/"+url.PathEscape(id)+"/status", body, &out); err != nil {
		return Delivery{}, err
	}
	return out.Data, nil
}
