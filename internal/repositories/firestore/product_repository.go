package firestore

import (
	"context"
	"errors"
	"strings"

	"cloud.google.com/go/firestore"

	domain "github.com/tillpoint/api/internal/domain"
	pfirestore "github.com/tillpoint/api/internal/platform/firestore"
)

const productsCollection = "products"

// ProductRepository reads the register catalog.
type ProductRepository struct {
	products *pfirestore.BaseRepository[productDocument]
}

// NewProductRepository constructs a Firestore-backed product lookup.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	return &ProductRepository{
		products: pfirestore.NewBaseRepository[productDocument](provider, productsCollection, nil, nil),
	}, nil
}

// FindByCode resolves a scanned barcode, falling back to SKU.
func (r *ProductRepository) FindByCode(ctx context.Context, code string) (domain.Product, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return domain.Product{}, pfirestore.NotFound("products.find_by_code", "product")
	}
	for _, field := range []string{"barcode", "sku"} {
		docs, err := r.products.Query(ctx, func(q firestore.Query) firestore.Query {
			return q.Where(field, "==", code).Where("active", "==", true).Limit(1)
		})
		if err != nil {
			return domain.Product{}, err
		}
		if len(docs) > 0 {
			return docs[0].Data.toDomain(docs[0].ID), nil
		}
	}
	return domain.Product{}, pfirestore.NotFound("products.find_by_code", "product "+code)
}

// FindByID loads an active product by document ID.
func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	doc, err := r.products.Get(ctx, strings.TrimSpace(productID))
	if err != nil {
		return domain.Product{}, err
	}
	if !doc.Data.Active {
		return domain.Product{}, pfirestore.NotFound("products.get", "product "+productID)
	}
	return doc.Data.toDomain(doc.ID), nil
}
