package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

var (
	ErrDuplicateID  = errors.New("duplicate product id")
	ErrMissingField = errors.New("missing required product field")
)

// Store holds the read-only product catalog loaded at startup. It is
// immutable after Load and therefore safe for unsynchronized concurrent reads.
type Store struct {
	products []Product
	byID     map[string]Product
}

// Load reads and validates the product catalog from a JSON file. Any
// validation failure is fatal to the caller: the service must not run
// against a corrupt catalog.
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}

	var products []Product
	if err := json.Unmarshal(data, &products); err != nil {
		return nil, fmt.Errorf("decode catalog %s: %w", path, err)
	}

	byID := make(map[string]Product, len(products))
	for i, p := range products {
		if p.ID == "" {
			return nil, fmt.Errorf("product at index %d: %w: id", i, ErrMissingField)
		}
		if p.Name == "" {
			return nil, fmt.Errorf("product %s: %w: name", p.ID, ErrMissingField)
		}
		if p.Price < 0 {
			return nil, fmt.Errorf("product %s: negative price %v", p.ID, p.Price)
		}
		if _, ok := byID[p.ID]; ok {
			return nil, fmt.Errorf("product %s: %w", p.ID, ErrDuplicateID)
		}
		byID[p.ID] = p
	}

	return &Store{products: products, byID: byID}, nil
}

// NewStore builds a store from an in-memory product list. Used by tests and
// any caller that already has validated records.
func NewStore(products []Product) *Store {
	byID := make(map[string]Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}
	return &Store{products: append([]Product(nil), products...), byID: byID}
}

// All returns every product in load order.
func (s *Store) All() []Product {
	return append([]Product(nil), s.products...)
}

// FindByID looks up a product by identifier.
func (s *Store) FindByID(id string) (Product, bool) {
	p, ok := s.byID[id]
	return p, ok
}

// Len reports the catalog size.
func (s *Store) Len() int {
	return len(s.products)
}
