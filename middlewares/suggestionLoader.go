package middlewares

import (
	"context"

	"bitbucket.org/owlinhq/reconcile_backend/models"
	"github.com/graph-gophers/dataloader/v7"
)

type suggestionReader struct{}

// getSuggestions has no cross-key batching win since each invoice's
// candidate scan is independent, but the loader still de-duplicates repeated
// ids within one request.
func (r *suggestionReader) getSuggestions(ctx context.Context, invoiceIds []string) []*dataloader.Result[[]models.PairingSuggestion] {
	results := make([]*dataloader.Result[[]models.PairingSuggestion], 0, len(invoiceIds))
	for _, id := range invoiceIds {
		suggestions, err := models.GetPairingSuggestions(ctx, id)
		if err != nil {
			results = append(results, &dataloader.Result[[]models.PairingSuggestion]{Error: err})
			continue
		}
		results = append(results, &dataloader.Result[[]models.PairingSuggestion]{Data: suggestions})
	}
	return results
}

func GetPairingSuggestions(ctx context.Context, invoiceId string) ([]models.PairingSuggestion, error) {
	loaders := For(ctx)
	if loaders == nil {
		return models.GetPairingSuggestions(ctx, invoiceId)
	}
	return loaders.suggestionLoader.Load(ctx, invoiceId)()
}

type counterpartReader struct{}

func (r *counterpartReader) getSuggestions(ctx context.Context, deliveryNoteIds []string) []*dataloader.Result[[]models.PairingSuggestion] {
	results := make([]*dataloader.Result[[]models.PairingSuggestion], 0, len(deliveryNoteIds))
	for _, id := range deliveryNoteIds {
		suggestions, err := models.GetCounterpartSuggestions(ctx, id)
		if err != nil {
			results = append(results, &dataloader.Result[[]models.PairingSuggestion]{Error: err})
			continue
		}
		results = append(results, &dataloader.Result[[]models.PairingSuggestion]{Data: suggestions})
	}
	return results
}

// GetCounterpartSuggestions ranks unpaired invoices for a delivery note, the
// reverse direction of GetPairingSuggestions.
func GetCounterpartSuggestions(ctx context.Context, deliveryNoteId string) ([]models.PairingSuggestion, error) {
	loaders := For(ctx)
	if loaders == nil {
		return models.GetCounterpartSuggestions(ctx, deliveryNoteId)
	}
	return loaders.counterpartLoader.Load(ctx, deliveryNoteId)()
}
