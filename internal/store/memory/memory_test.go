package memory

import (
	"context"
	"testing"

	"barpos/backend/internal/domain"
	"barpos/backend/internal/store"
	"barpos/backend/internal/store/storetest"
)

func TestRepositoryContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Repository {
		return New()
	})
}

func TestNewSeededKeepsLedgerAndStockInStep(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	sums, err := s.LedgerSums(ctx)
	if err != nil {
		t.Fatalf("ledger sums: %v", err)
	}
	products, err := s.ListProducts(ctx, domain.ProductFilter{})
	if err != nil {
		t.Fatalf("list products: %v", err)
	}
	if len(products) == 0 {
		t.Fatalf("expected a seeded catalogue")
	}
	for _, p := range products {
		if p.StockTracked() && sums[p.ID] != p.Stock {
			t.Fatalf("product %s: stock %d but ledger sum %d", p.ID, p.Stock, sums[p.ID])
		}
	}

	recipe, err := s.GetRecipe(ctx, "prd-mule")
	if err != nil {
		t.Fatalf("get recipe: %v", err)
	}
	if len(recipe) != 3 {
		t.Fatalf("expected 3 recipe rows for the mule, got %d", len(recipe))
	}

	users, err := s.ListUsers(ctx)
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("expected admin and cashier seed users, got %d", len(users))
	}
}
