package middlewares

import (
	"context"
	"time"

	"bitbucket.org/owlinhq/reconcile_backend/config"
	"bitbucket.org/owlinhq/reconcile_backend/models"
	"github.com/gin-gonic/gin"
	"github.com/graph-gophers/dataloader/v7"
	"gorm.io/gorm"
)

type ctxKey string

const (
	loadersKey = ctxKey("dataloaders")
)

// Loaders wrap the request-scoped data loaders. Loading the same document id
// twice within one request coalesces into a single fetch.
type Loaders struct {
	invoiceDetailsLoader      *dataloader.Loader[string, *models.DocumentDetails]
	deliveryNoteDetailsLoader *dataloader.Loader[string, *models.DocumentDetails]
	suggestionLoader          *dataloader.Loader[string, []models.PairingSuggestion]
	counterpartLoader         *dataloader.Loader[string, []models.PairingSuggestion]
}

// NewLoaders instantiates data loaders for the middleware
func NewLoaders(conn *gorm.DB) *Loaders {
	invoiceReader := &documentDetailsReader{db: conn, kind: models.DocumentKindInvoice}
	deliveryNoteReader := &documentDetailsReader{db: conn, kind: models.DocumentKindDeliveryNote}
	suggestionReader := &suggestionReader{}
	counterpartReader := &counterpartReader{}

	return &Loaders{
		invoiceDetailsLoader:      dataloader.NewBatchedLoader(invoiceReader.getDetails, dataloader.WithWait[string, *models.DocumentDetails](time.Millisecond)),
		deliveryNoteDetailsLoader: dataloader.NewBatchedLoader(deliveryNoteReader.getDetails, dataloader.WithWait[string, *models.DocumentDetails](time.Millisecond)),
		suggestionLoader:          dataloader.NewBatchedLoader(suggestionReader.getSuggestions, dataloader.WithWait[string, []models.PairingSuggestion](time.Millisecond)),
		counterpartLoader:         dataloader.NewBatchedLoader(counterpartReader.getSuggestions, dataloader.WithWait[string, []models.PairingSuggestion](time.Millisecond)),
	}
}

func LoaderMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		loader := NewLoaders(config.GetDB())
		ctx := context.WithValue(c.Request.Context(), loadersKey, loader)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// For returns the request's loaders. Contexts without loaders (background
// jobs, tests) get nil and callers fall through to direct reads.
func For(ctx context.Context) *Loaders {
	loaders, _ := ctx.Value(loadersKey).(*Loaders)
	return loaders
}

// handleError creates array of result with the same error repeated for as many items requested
func handleError[T any](itemsLength int, err error) []*dataloader.Result[T] {
	result := make([]*dataloader.Result[T], itemsLength)
	for i := 0; i < itemsLength; i++ {
		result[i] = &dataloader.Result[T]{Error: err}
	}
	return result
}
