package catalog

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sakashimaa/media-store/pkg/config"
	"github.com/sakashimaa/media-store/services/storefront/internal/domain"
)

const defaultCurrency = "USD"

// Catalog is immutable after construction and safe for concurrent use.
type Catalog struct {
	products map[string]*domain.Product
	ordered  []*domain.Product
}

func New(products []*domain.Product) (*Catalog, error) {
	c := &Catalog{products: make(map[string]*domain.Product, len(products))}

	for _, p := range products {
		id := Normalize(p.ID)
		if id == "" {
			return nil, fmt.Errorf("product %q: empty id", p.Name)
		}
		if id != p.ID {
			return nil, fmt.Errorf("product %q: id is not in canonical form (want %q)", p.ID, id)
		}
		if _, exists := c.products[id]; exists {
			return nil, fmt.Errorf("product %q: duplicate id", id)
		}
		if !p.Price.IsPositive() {
			return nil, fmt.Errorf("product %q: price must be positive", id)
		}
		if p.ContentRef == "" {
			return nil, fmt.Errorf("product %q: empty content reference", id)
		}

		c.products[id] = p
		c.ordered = append(c.ordered, p)
	}

	sort.Slice(c.ordered, func(i, j int) bool {
		return c.ordered[i].ID < c.ordered[j].ID
	})

	return c, nil
}

// FromConfig builds the catalog from the catalog section of the config file.
func FromConfig(cfg config.Catalog) (*Catalog, error) {
	products := make([]*domain.Product, 0, len(cfg.Products))

	for _, p := range cfg.Products {
		currency := p.Currency
		if currency == "" {
			currency = defaultCurrency
		}

		price, err := domain.ParseMoney(p.Price, currency)
		if err != nil {
			return nil, fmt.Errorf("product %q: %w", p.ID, err)
		}

		products = append(products, &domain.Product{
			ID:         p.ID,
			Name:       p.Name,
			Price:      price,
			ContentRef: p.ContentRef,
		})
	}

	return New(products)
}

// Resolve looks a product up by slug after normalization. A miss is
// reported through ok, never as an error.
func (c *Catalog) Resolve(slug string) (*domain.Product, bool) {
	p, ok := c.products[Normalize(slug)]
	return p, ok
}

func (c *Catalog) List() []*domain.Product {
	out := make([]*domain.Product, len(c.ordered))
	copy(out, c.ordered)
	return out
}

// Normalize lowercases the slug, trims it and collapses each whitespace run
// into a single hyphen.
func Normalize(slug string) string {
	return strings.Join(strings.Fields(strings.ToLower(slug)), "-")
}
