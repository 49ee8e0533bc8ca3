package cart

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-checkout/internal/domain/catalog"
)

// Service maintains the pre-checkout basket of each user. It never checks or
// reserves stock: stock is only authoritative when an order is created.
type Service struct {
	carts   Repository
	catalog catalog.Repository
}

// NewService creates a cart Service.
func NewService(carts Repository, items catalog.Repository) *Service {
	return &Service{
		carts:   carts,
		catalog: items,
	}
}

// AddItem adds quantity of itemID to the user's cart, merging with an
// existing line for the same item.
func (s *Service) AddItem(ctx context.Context, userID, itemID string, quantity int) (*Cart, error) {
	if quantity < 1 || quantity > MaxQuantity {
		return nil, ErrInvalidQuantity
	}
	if err := s.resolve(ctx, itemID); err != nil {
		return nil, err
	}
	if err := s.carts.Add(ctx, userID, itemID, quantity); err != nil {
		if errors.Is(err, ErrInvalidQuantity) {
			return nil, err
		}
		return nil, errors.Wrap(err, "add cart item")
	}
	return s.GetCart(ctx, userID)
}

// UpdateQuantity overwrites the quantity of a line. Zero removes the line.
func (s *Service) UpdateQuantity(ctx context.Context, userID, itemID string, quantity int) (*Cart, error) {
	switch {
	case quantity < 0, quantity > MaxQuantity:
		return nil, ErrInvalidQuantity
	case quantity == 0:
		return s.RemoveItem(ctx, userID, itemID)
	}
	if err := s.resolve(ctx, itemID); err != nil {
		return nil, err
	}
	if err := s.carts.Set(ctx, userID, itemID, quantity); err != nil {
		return nil, errors.Wrap(err, "set cart item")
	}
	return s.GetCart(ctx, userID)
}

// RemoveItem drops the line for itemID. Removing an absent line is not an error.
func (s *Service) RemoveItem(ctx context.Context, userID, itemID string) (*Cart, error) {
	if err := s.carts.Remove(ctx, userID, itemID); err != nil {
		return nil, errors.Wrap(err, "remove cart item")
	}
	return s.GetCart(ctx, userID)
}

// ClearCart empties the user's cart.
func (s *Service) ClearCart(ctx context.Context, userID string) error {
	if err := s.carts.Clear(ctx, userID); err != nil {
		return errors.Wrap(err, "clear cart")
	}
	return nil
}

// GetCart returns the user's lines joined with current catalog names and prices.
func (s *Service) GetCart(ctx context.Context, userID string) (*Cart, error) {
	rows, err := s.carts.Items(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list cart items")
	}

	c := &Cart{UserID: userID, Lines: make([]Line, 0, len(rows))}
	if len(rows) == 0 {
		return c, nil
	}

	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ItemID
	}
	items, err := s.catalog.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get catalog items")
	}
	byID := catalog.Index(items)

	for _, r := range rows {
		line := Line{ItemID: r.ItemID, Quantity: r.Quantity}
		if it, ok := byID[r.ItemID]; ok {
			line.Name = it.Name
			line.UnitPrice = it.Price
			line.Available = it.Active
		}
		c.Lines = append(c.Lines, line)
	}
	return c, nil
}

func (s *Service) resolve(ctx context.Context, itemID string) error {
	it, err := s.catalog.GetByID(ctx, itemID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return &ItemNotFoundError{ItemID: itemID}
		}
		return errors.Wrapf(err, "get item %s", itemID)
	}
	if !it.Active {
		return &ItemNotFoundError{ItemID: itemID}
	}
	return nil
}
