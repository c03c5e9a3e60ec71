// Package storetest holds the behavior every store.Store must share.
package storetest

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"invoice-import-service/internal/models"
	"invoice-import-service/internal/store"
	"invoice-import-service/pkg/errors"
)

// Factory returns a fresh, migrated and empty store for one test
type Factory func(t *testing.T) store.Store

// Header builds a valid header for tests
func Header(number, total string) *models.InvoiceHeader {
	return &models.InvoiceHeader{
		InvoiceNumber:     number,
		InvoiceDate:       time.Date(2024, time.February, 1, 10, 30, 0, 0, time.UTC),
		Address:           "1 Main St",
		InvoiceTotalExVAT: decimal.RequireFromString(total),
	}
}

// Line builds a line for tests
func Line(description string, quantity int, price string) models.InvoiceLine {
	return models.InvoiceLine{
		LineDescription:       description,
		InvoiceQuantity:       quantity,
		UnitSellingPriceExVAT: decimal.RequireFromString(price),
	}
}

// Run executes the shared gateway tests against the factory's store
func Run(t *testing.T, newStore Factory) {
	t.Run("FindMissingReturnsNil", func(t *testing.T) { testFindMissing(t, newStore(t)) })
	t.Run("AddAndFind", func(t *testing.T) { testAddAndFind(t, newStore(t)) })
	t.Run("DuplicateAtWrite", func(t *testing.T) { testDuplicate(t, newStore(t)) })
	t.Run("ListAndSums", func(t *testing.T) { testListAndSums(t, newStore(t)) })
	t.Run("EmptySums", func(t *testing.T) { testEmptySums(t, newStore(t)) })
	t.Run("SumsMatchListedLines", func(t *testing.T) { testSumsMatchListedLines(t, newStore(t)) })
	t.Run("DeleteHeader", func(t *testing.T) { testDelete(t, newStore(t)) })
	t.Run("Runs", func(t *testing.T) { testRuns(t, newStore(t)) })
}

func testFindMissing(t *testing.T, s store.Store) {
	header, err := s.FindHeaderByNumber(context.Background(), "NOPE")
	if err != nil {
		t.Fatalf("FindHeaderByNumber() unexpected error: %v", err)
	}
	if header != nil {
		t.Errorf("expected nil header, got %v", header)
	}
}

func testAddAndFind(t *testing.T, s store.Store) {
	ctx := context.Background()
	header := Header("INV001", "37.50")

	result := s.AddHeaderWithLines(ctx, header, []models.InvoiceLine{
		Line("Widget", 2, "12.50"),
		Line("Bolt", 5, "2.50"),
	})
	if result.Status != store.StatusInserted || result.Err != nil {
		t.Fatalf("expected inserted, got %s: %v", result.Status, result.Err)
	}
	if result.HeaderID == 0 || header.ID != result.HeaderID {
		t.Errorf("expected header id to be assigned, got result %d header %d", result.HeaderID, header.ID)
	}

	found, err := s.FindHeaderByNumber(ctx, "INV001")
	if err != nil || found == nil {
		t.Fatalf("FindHeaderByNumber() = %v, %v", found, err)
	}
	if found.Address != "1 Main St" || !found.InvoiceTotalExVAT.Equal(decimal.RequireFromString("37.50")) {
		t.Errorf("unexpected stored header %s", found)
	}
	if !found.InvoiceDate.Equal(header.InvoiceDate) {
		t.Errorf("expected date %v, got %v", header.InvoiceDate, found.InvoiceDate)
	}
	if len(found.Lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(found.Lines))
	}
	if found.Lines[0].LineDescription != "Widget" || found.Lines[1].LineDescription != "Bolt" {
		t.Errorf("expected lines in insertion order, got %+v", found.Lines)
	}
	for _, l := range found.Lines {
		if l.InvoiceHeaderID != found.ID {
			t.Errorf("line %d references header %d, want %d", l.ID, l.InvoiceHeaderID, found.ID)
		}
	}
	if found.TotalQuantity() != 7 {
		t.Errorf("expected total quantity 7, got %d", found.TotalQuantity())
	}
}

func testDuplicate(t *testing.T, s store.Store) {
	ctx := context.Background()

	if r := s.AddHeaderWithLines(ctx, Header("INV001", "10.00"), []models.InvoiceLine{Line("A", 1, "10.00")}); r.Status != store.StatusInserted {
		t.Fatalf("first write: %s %v", r.Status, r.Err)
	}

	r := s.AddHeaderWithLines(ctx, Header("INV001", "99.00"), []models.InvoiceLine{Line("B", 9, "11.00")})
	if r.Status != store.StatusDuplicate {
		t.Fatalf("expected duplicate, got %s: %v", r.Status, r.Err)
	}
	if !errors.HasCode(r.Err, errors.CodeDuplicateInvoice) {
		t.Errorf("expected duplicate invoice error, got %v", r.Err)
	}

	headers, err := s.ListAllHeadersWithLines(ctx)
	if err != nil {
		t.Fatalf("ListAllHeadersWithLines: %v", err)
	}
	if len(headers) != 1 || len(headers[0].Lines) != 1 {
		t.Fatalf("expected the rejected write to leave no rows, got %d headers", len(headers))
	}
	lines, err := s.SumLineTotals(ctx)
	if err != nil {
		t.Fatalf("SumLineTotals: %v", err)
	}
	if !lines.Equal(decimal.RequireFromString("10")) {
		t.Errorf("expected no orphan lines, line total %s", lines)
	}
}

func testListAndSums(t *testing.T, s store.Store) {
	ctx := context.Background()

	s.AddHeaderWithLines(ctx, Header("INV001", "37.50"), []models.InvoiceLine{Line("Widget", 3, "12.50")})
	s.AddHeaderWithLines(ctx, Header("INV002", "100.00"), []models.InvoiceLine{
		Line("Gadget", 9, "10.00"),
		Line("Gizmo", 1, "9.00"),
	})
	s.AddHeaderWithLines(ctx, Header("INV003", "0.30"), []models.InvoiceLine{
		Line("Penny A", 1, "0.10"),
		Line("Penny B", 1, "0.20"),
	})

	headers, err := s.ListAllHeadersWithLines(ctx)
	if err != nil {
		t.Fatalf("ListAllHeadersWithLines: %v", err)
	}
	if len(headers) != 3 {
		t.Fatalf("expected 3 headers, got %d", len(headers))
	}
	for i, want := range []string{"INV001", "INV002", "INV003"} {
		if headers[i].InvoiceNumber != want {
			t.Errorf("headers[%d] = %s, want %s", i, headers[i].InvoiceNumber, want)
		}
	}
	if len(headers[1].Lines) != 2 {
		t.Errorf("expected INV002 to have 2 lines, got %d", len(headers[1].Lines))
	}

	headerTotal, err := s.SumHeaderTotals(ctx)
	if err != nil {
		t.Fatalf("SumHeaderTotals: %v", err)
	}
	if !headerTotal.Equal(decimal.RequireFromString("137.80")) {
		t.Errorf("SumHeaderTotals() = %s, want 137.80", headerTotal)
	}

	lineTotal, err := s.SumLineTotals(ctx)
	if err != nil {
		t.Fatalf("SumLineTotals: %v", err)
	}
	if !lineTotal.Equal(decimal.RequireFromString("136.80")) {
		t.Errorf("SumLineTotals() = %s, want 136.80", lineTotal)
	}
}

// the database sums must see the same amounts as the listed lines, including
// fractions of a cent
func testSumsMatchListedLines(t *testing.T, s store.Store) {
	ctx := context.Background()

	s.AddHeaderWithLines(ctx, Header("INV001", "100.00"), []models.InvoiceLine{
		Line("Part", 1, "33.335"),
		Line("Rest", 2, "33.33"),
	})

	headers, err := s.ListAllHeadersWithLines(ctx)
	if err != nil {
		t.Fatalf("ListAllHeadersWithLines: %v", err)
	}
	listed := decimal.Zero
	for _, h := range headers {
		listed = listed.Add(h.LinesTotal())
	}

	lineTotal, err := s.SumLineTotals(ctx)
	if err != nil {
		t.Fatalf("SumLineTotals: %v", err)
	}
	if !lineTotal.Equal(listed) {
		t.Errorf("SumLineTotals() = %s, listed lines total %s", lineTotal, listed)
	}
	if !lineTotal.Equal(decimal.RequireFromString("99.995")) {
		t.Errorf("SumLineTotals() = %s, want 99.995", lineTotal)
	}
}

func testEmptySums(t *testing.T, s store.Store) {
	ctx := context.Background()

	headerTotal, err := s.SumHeaderTotals(ctx)
	if err != nil || !headerTotal.IsZero() {
		t.Errorf("SumHeaderTotals() = %s, %v; want 0", headerTotal, err)
	}
	lineTotal, err := s.SumLineTotals(ctx)
	if err != nil || !lineTotal.IsZero() {
		t.Errorf("SumLineTotals() = %s, %v; want 0", lineTotal, err)
	}
	headers, err := s.ListAllHeadersWithLines(ctx)
	if err != nil || len(headers) != 0 {
		t.Errorf("ListAllHeadersWithLines() = %d headers, %v; want none", len(headers), err)
	}
}

func testDelete(t *testing.T, s store.Store) {
	ctx := context.Background()

	s.AddHeaderWithLines(ctx, Header("INV001", "25.00"), []models.InvoiceLine{Line("A", 1, "25.00")})
	s.AddHeaderWithLines(ctx, Header("INV002", "5.00"), []models.InvoiceLine{Line("B", 5, "1.00")})

	if err := s.DeleteHeader(ctx, "INV001"); err != nil {
		t.Fatalf("DeleteHeader: %v", err)
	}

	found, err := s.FindHeaderByNumber(ctx, "INV001")
	if err != nil || found != nil {
		t.Errorf("expected INV001 to be gone, got %v, %v", found, err)
	}
	lineTotal, err := s.SumLineTotals(ctx)
	if err != nil {
		t.Fatalf("SumLineTotals: %v", err)
	}
	if !lineTotal.Equal(decimal.RequireFromString("5")) {
		t.Errorf("expected owned lines to be deleted, line total %s", lineTotal)
	}

	err = s.DeleteHeader(ctx, "INV001")
	if !errors.HasCode(err, errors.CodeNotFound) {
		t.Errorf("expected not found on second delete, got %v", err)
	}

	// the number is free again
	if r := s.AddHeaderWithLines(ctx, Header("INV001", "1.00"), []models.InvoiceLine{Line("C", 1, "1.00")}); r.Status != store.StatusInserted {
		t.Errorf("expected re-insert after delete, got %s: %v", r.Status, r.Err)
	}
}

func testRuns(t *testing.T, s store.Store) {
	ctx := context.Background()
	base := time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

	summary, err := json.Marshal(map[string]interface{}{"committed": []string{"INV001"}})
	if err != nil {
		t.Fatalf("marshal summary: %v", err)
	}

	for i, status := range []string{store.RunSucceeded, store.RunFailed, store.RunSucceeded} {
		run := &store.ImportRun{
			ID:          uuid.New(),
			SourceFile:  "invoices.csv",
			Status:      status,
			Committed:   i,
			HeaderTotal: decimal.RequireFromString("37.50"),
			LineTotal:   decimal.RequireFromString("37.50"),
			Matched:     true,
			Summary:     datatypes.JSON(summary),
			StartedAt:   base.Add(time.Duration(i) * time.Minute),
			FinishedAt:  base.Add(time.Duration(i)*time.Minute + time.Second),
		}
		if err := s.RecordRun(ctx, run); err != nil {
			t.Fatalf("RecordRun: %v", err)
		}
	}

	runs, err := s.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].Committed != 2 || runs[1].Committed != 1 {
		t.Errorf("expected most recent first, got %d then %d", runs[0].Committed, runs[1].Committed)
	}
	if runs[1].Status != store.RunFailed {
		t.Errorf("expected failed status, got %s", runs[1].Status)
	}

	var decoded map[string][]string
	if err := json.Unmarshal(runs[0].Summary, &decoded); err != nil {
		t.Fatalf("summary is not JSON: %v", err)
	}
	if len(decoded["committed"]) != 1 {
		t.Errorf("unexpected summary %s", string(runs[0].Summary))
	}
}
