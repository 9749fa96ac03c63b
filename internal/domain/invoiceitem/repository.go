package invoiceitem

import "context"

// Repository provides access to persisted invoice items. The reconciliation
// engine itself is storage free; callers use a repository to load the billed
// history for an account and to persist the resulting delta.
type Repository interface {
	CreateBulk(ctx context.Context, items []*InvoiceItem) error
	Get(ctx context.Context, id string) (*InvoiceItem, error)
	ListByAccount(ctx context.Context, accountID string) ([]*InvoiceItem, error)
	ListByInvoice(ctx context.Context, invoiceID string) ([]*InvoiceItem, error)
}
