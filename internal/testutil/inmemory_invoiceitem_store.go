package testutil

import (
	"context"
	"sort"
	"sync"

	"github.com/flexprice/invoicetree/internal/domain/invoiceitem"
	ierr "github.com/flexprice/invoicetree/internal/errors"
)

// InMemoryInvoiceItemStore implements invoiceitem.Repository
type InMemoryInvoiceItemStore struct {
	mu    sync.RWMutex
	items map[string]*invoiceitem.InvoiceItem
}

// NewInMemoryInvoiceItemStore creates a new in-memory invoice item store
func NewInMemoryInvoiceItemStore() *InMemoryInvoiceItemStore {
	return &InMemoryInvoiceItemStore{
		items: make(map[string]*invoiceitem.InvoiceItem),
	}
}

func copyInvoiceItem(item *invoiceitem.InvoiceItem) *invoiceitem.InvoiceItem {
	if item == nil {
		return nil
	}
	cp := *item
	return &cp
}

func (s *InMemoryInvoiceItemStore) CreateBulk(ctx context.Context, items []*invoiceitem.InvoiceItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, item := range items {
		if item == nil {
			return ierr.NewError("invoice item cannot be nil").
				Mark(ierr.ErrValidation)
		}
		if _, exists := s.items[item.ID]; exists {
			return ierr.NewError("invoice item already exists").
				WithHintf("item %s is already stored", item.ID).
				Mark(ierr.ErrAlreadyExists)
		}
	}
	for _, item := range items {
		s.items[item.ID] = copyInvoiceItem(item)
	}
	return nil
}

func (s *InMemoryInvoiceItemStore) Get(ctx context.Context, id string) (*invoiceitem.InvoiceItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	if !ok {
		return nil, ierr.NewError("invoice item not found").
			WithHintf("no item with id %s", id).
			Mark(ierr.ErrNotFound)
	}
	return copyInvoiceItem(item), nil
}

func (s *InMemoryInvoiceItemStore) ListByAccount(ctx context.Context, accountID string) ([]*invoiceitem.InvoiceItem, error) {
	return s.list(func(item *invoiceitem.InvoiceItem) bool {
		return item.AccountID == accountID
	}), nil
}

func (s *InMemoryInvoiceItemStore) ListByInvoice(ctx context.Context, invoiceID string) ([]*invoiceitem.InvoiceItem, error) {
	return s.list(func(item *invoiceitem.InvoiceItem) bool {
		return item.InvoiceID == invoiceID
	}), nil
}

func (s *InMemoryInvoiceItemStore) list(match func(*invoiceitem.InvoiceItem) bool) []*invoiceitem.InvoiceItem {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*invoiceitem.InvoiceItem
	for _, item := range s.items {
		if match(item) {
			result = append(result, copyInvoiceItem(item))
		}
	}
	// map iteration order is random; keep results stable for assertions
	sort.Slice(result, func(a, b int) bool {
		if !result[a].StartDate.Equal(result[b].StartDate) {
			return result[a].StartDate.Before(result[b].StartDate)
		}
		return result[a].ID < result[b].ID
	})
	return result
}

// Clear removes all stored items
func (s *InMemoryInvoiceItemStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]*invoiceitem.InvoiceItem)
}
