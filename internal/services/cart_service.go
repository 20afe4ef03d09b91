package services

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/storefront/services/checkout/internal/models"
	"example.com/storefront/services/checkout/internal/tracing"
)

// CartService owns cart lines and the anonymous-to-account merge
type CartService struct {
	products ProductReader
	carts    CartRepository
	tracer   tracing.Tracer
}

// NewCartService creates a new cart service
func NewCartService(products ProductReader, carts CartRepository, tracer tracing.Tracer) *CartService {
	return &CartService{
		products: products,
		carts:    carts,
		tracer:   tracer,
	}
}

// AddOrUpdate puts a product in the cart. When a line for the product
// already exists its quantity is replaced, not incremented, and the
// unit price is re-snapshotted. The merge operation is the additive one.
func (s *CartService) AddOrUpdate(ctx context.Context, identity models.Identity, productID uuid.UUID, quantity int) (*models.CartItem, error) {
	txn := s.tracer.StartTransaction("cart-add-or-update")
	defer s.tracer.EndTransaction(txn)

	if !identity.Valid() {
		return nil, NewValidationError("identity", "exactly one of account or session must be set")
	}
	if quantity < 1 {
		return nil, NewValidationError("quantity", "must be at least 1")
	}

	product, err := s.products.GetByID(ctx, productID)
	if err != nil {
		s.tracer.RecordError(txn, err)
		return nil, err
	}
	if !product.InStock || quantity > product.StockQuantity {
		return nil, errors.Wrapf(ErrOutOfStock, "product %s has %d units", productID, product.StockQuantity)
	}

	line, err := s.carts.GetLine(ctx, identity, productID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		s.tracer.RecordError(txn, err)
		return nil, err
	}

	if line == nil {
		line = &models.CartItem{
			ID:        uuid.New(),
			AccountID: identity.AccountID,
			SessionID: identity.SessionID,
			ProductID: productID,
		}
	}
	line.Quantity = quantity
	line.UnitPrice = product.PriceFor(identity)

	if err := s.carts.Save(ctx, line); err != nil {
		s.tracer.RecordError(txn, err)
		return nil, errors.Wrap(err, "failed to save cart line")
	}

	log.Debug().
		Str("product_id", productID.String()).
		Int("quantity", quantity).
		Float64("unit_price", line.UnitPrice).
		Msg("Cart line saved")

	return line, nil
}

// Remove deletes a cart line owned by the identity
func (s *CartService) Remove(ctx context.Context, identity models.Identity, lineID uuid.UUID) error {
	line, err := s.carts.GetLineByID(ctx, lineID)
	if err != nil {
		return err
	}
	if !identity.Owns(line.AccountID, line.SessionID) {
		return errors.Wrap(ErrForbidden, "cart line belongs to another identity")
	}
	return s.carts.Delete(ctx, lineID)
}

// Lines returns the identity's cart lines, oldest first
func (s *CartService) Lines(ctx context.Context, identity models.Identity) ([]models.CartItem, error) {
	return s.carts.ListLines(ctx, identity)
}

// Count returns the number of lines in the identity's cart
func (s *CartService) Count(ctx context.Context, identity models.Identity) (int, error) {
	return s.carts.CountLines(ctx, identity)
}

// Total sums the snapshotted line totals. Prices are not recomputed
// from the live catalog; cart totals stay stable until an explicit
// update even if a product's price changes.
func (s *CartService) Total(ctx context.Context, identity models.Identity) (float64, error) {
	lines, err := s.carts.ListLines(ctx, identity)
	if err != nil {
		return 0, err
	}
	var total float64
	for i := range lines {
		total += lines[i].LineTotal()
	}
	return total, nil
}

// MergeAnonymousIntoAccount folds an anonymous session's cart into an
// account's cart. Quantities for shared products are combined, every
// result is clamped to the available stock, and each anonymous line is
// deleted or re-owned as part of its own processing step so that a
// partial run never double-counts on re-invocation.
func (s *CartService) MergeAnonymousIntoAccount(ctx context.Context, sessionID string, accountID uuid.UUID) error {
	txn := s.tracer.StartTransaction("cart-merge")
	defer s.tracer.EndTransaction(txn)

	source := models.SessionIdentity(sessionID)
	target := models.AccountIdentity(accountID)

	lines, err := s.carts.ListLines(ctx, source)
	if err != nil {
		s.tracer.RecordError(txn, err)
		return errors.Wrap(err, "failed to list anonymous cart lines")
	}

	for i := range lines {
		src := lines[i]

		product, err := s.products.GetByID(ctx, src.ProductID)
		if err != nil {
			s.tracer.RecordError(txn, err)
			return errors.Wrapf(err, "failed to load product %s during merge", src.ProductID)
		}

		existing, err := s.carts.GetLine(ctx, target, src.ProductID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			s.tracer.RecordError(txn, err)
			return err
		}

		if existing != nil {
			// Combine and clamp. A clamp down to zero still keeps the
			// line; silently dropping it would change cart contents
			// without the user asking.
			existing.Quantity = clampToStock(existing.Quantity+src.Quantity, product.StockQuantity)
			existing.UnitPrice = product.PriceFor(target)
			if err := s.carts.Save(ctx, existing); err != nil {
				s.tracer.RecordError(txn, err)
				return errors.Wrap(err, "failed to update merged cart line")
			}
			if err := s.carts.Delete(ctx, src.ID); err != nil {
				s.tracer.RecordError(txn, err)
				return errors.Wrap(err, "failed to drain anonymous cart line")
			}
			continue
		}

		// Re-own the anonymous line in place.
		src.AccountID = &accountID
		src.SessionID = nil
		src.Quantity = clampToStock(src.Quantity, product.StockQuantity)
		src.UnitPrice = product.PriceFor(target)
		if err := s.carts.Save(ctx, &src); err != nil {
			s.tracer.RecordError(txn, err)
			return errors.Wrap(err, "failed to re-own anonymous cart line")
		}
	}

	log.Info().
		Str("account_id", accountID.String()).
		Int("merged_lines", len(lines)).
		Msg("Anonymous cart merged into account")

	return nil
}

func clampToStock(quantity, stock int) int {
	if quantity > stock {
		return stock
	}
	return quantity
}
