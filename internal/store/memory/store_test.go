package memory

import (
	"context"
	"testing"

	"invoice-import-service/internal/models"
	"invoice-import-service/internal/store"
	"invoice-import-service/internal/store/storetest"
)

func TestMemoryStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return New()
	})
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := New()

	header := storetest.Header("INV001", "10.00")
	s.AddHeaderWithLines(ctx, header, []models.InvoiceLine{storetest.Line("A", 1, "10.00")})

	found, _ := s.FindHeaderByNumber(ctx, "INV001")
	found.Address = "changed"
	found.Lines[0].InvoiceQuantity = 99

	again, _ := s.FindHeaderByNumber(ctx, "INV001")
	if again.Address != "1 Main St" || again.Lines[0].InvoiceQuantity != 1 {
		t.Errorf("stored invoice was mutated through a returned copy: %s", again)
	}
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := New().AddHeaderWithLines(ctx, storetest.Header("INV001", "1.00"), nil)
	if r.Status != store.StatusFailed {
		t.Errorf("expected failed write on cancelled context, got %s", r.Status)
	}
}
