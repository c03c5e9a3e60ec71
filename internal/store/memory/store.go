// Package memory is an in-process Store used for dry runs and tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"invoice-import-service/internal/models"
	"invoice-import-service/internal/store"
)

// Store keeps invoices in memory. It has the same uniqueness and atomicity
// behavior as the SQL store.
type Store struct {
	mu       sync.RWMutex
	headers  map[string]*models.InvoiceHeader
	order    []string
	runs     []*store.ImportRun
	nextID   uint
	nextLine uint
}

var _ store.Store = (*Store)(nil)

// New creates an empty store
func New() *Store {
	return &Store{headers: make(map[string]*models.InvoiceHeader)}
}

// FindHeaderByNumber returns a copy of the stored invoice or nil
func (s *Store) FindHeaderByNumber(ctx context.Context, invoiceNumber string) (*models.InvoiceHeader, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.headers[invoiceNumber]
	if !ok {
		return nil, nil
	}
	return cloneHeader(h), nil
}

// AddHeaderWithLines stores the header and lines under a single lock
func (s *Store) AddHeaderWithLines(ctx context.Context, header *models.InvoiceHeader, lines []models.InvoiceLine) store.WriteResult {
	if err := ctx.Err(); err != nil {
		return store.Failed(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.headers[header.InvoiceNumber]; exists {
		return store.Duplicate(header.InvoiceNumber, nil)
	}

	s.nextID++
	stored := &models.InvoiceHeader{
		ID:                s.nextID,
		InvoiceNumber:     header.InvoiceNumber,
		InvoiceDate:       header.InvoiceDate,
		Address:           header.Address,
		InvoiceTotalExVAT: header.InvoiceTotalExVAT,
		Lines:             make([]models.InvoiceLine, len(lines)),
	}
	for i, l := range lines {
		s.nextLine++
		l.ID = s.nextLine
		l.InvoiceHeaderID = stored.ID
		stored.Lines[i] = l
	}

	s.headers[stored.InvoiceNumber] = stored
	s.order = append(s.order, stored.InvoiceNumber)

	header.ID = stored.ID
	header.Lines = append([]models.InvoiceLine(nil), stored.Lines...)
	return store.Inserted(stored.ID)
}

// ListAllHeadersWithLines returns copies of all invoices in insertion order
func (s *Store) ListAllHeadersWithLines(ctx context.Context) ([]*models.InvoiceHeader, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	headers := make([]*models.InvoiceHeader, 0, len(s.order))
	for _, number := range s.order {
		headers = append(headers, cloneHeader(s.headers[number]))
	}
	return headers, nil
}

// SumHeaderTotals sums the total of every stored invoice
func (s *Store) SumHeaderTotals(ctx context.Context) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	total := decimal.Zero
	for _, h := range s.headers {
		total = total.Add(h.InvoiceTotalExVAT)
	}
	return total, nil
}

// SumLineTotals sums quantity times unit price over every stored line
func (s *Store) SumLineTotals(ctx context.Context) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	total := decimal.Zero
	for _, h := range s.headers {
		total = total.Add(h.LinesTotal())
	}
	return total, nil
}

// DeleteHeader removes an invoice with its lines
func (s *Store) DeleteHeader(ctx context.Context, invoiceNumber string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.headers[invoiceNumber]; !ok {
		return store.NotFound(invoiceNumber)
	}

	delete(s.headers, invoiceNumber)
	for i, number := range s.order {
		if number == invoiceNumber {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// RecordRun appends a run to the audit trail
func (s *Store) RecordRun(ctx context.Context, run *store.ImportRun) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *run
	s.runs = append(s.runs, &copied)
	return nil
}

// ListRuns returns the most recent runs first
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*store.ImportRun, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]*store.ImportRun, len(s.runs))
	copy(runs, s.runs)
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// Migrate is a no-op for the memory store
func (s *Store) Migrate(ctx context.Context) error {
	return nil
}

// Close is a no-op for the memory store
func (s *Store) Close() error {
	return nil
}

func cloneHeader(h *models.InvoiceHeader) *models.InvoiceHeader {
	c := *h
	c.Lines = append([]models.InvoiceLine(nil), h.Lines...)
	return &c
}
