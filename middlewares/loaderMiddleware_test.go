package middlewares

import (
	"context"
	"sync"
	"testing"
	"time"

	"bitbucket.org/owlinhq/reconcile_backend/models"
	"github.com/graph-gophers/dataloader/v7"
)

func countingDocumentLoader(calls *int, keys *[]string, mu *sync.Mutex) *dataloader.Loader[string, *models.DocumentDetails] {
	batch := func(ctx context.Context, ids []string) []*dataloader.Result[*models.DocumentDetails] {
		mu.Lock()
		*calls++
		*keys = append(*keys, ids...)
		mu.Unlock()
		results := make([]*dataloader.Result[*models.DocumentDetails], 0, len(ids))
		for _, id := range ids {
			results = append(results, &dataloader.Result[*models.DocumentDetails]{
				Data: &models.DocumentDetails{ID: id, Kind: models.DocumentKindInvoice},
			})
		}
		return results
	}
	return dataloader.NewBatchedLoader(batch, dataloader.WithWait[string, *models.DocumentDetails](time.Millisecond))
}

func TestLoaderDeduplicatesConcurrentReads(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	var keys []string
	loaders := &Loaders{invoiceDetailsLoader: countingDocumentLoader(&calls, &keys, &mu)}
	ctx := context.WithValue(context.Background(), loadersKey, loaders)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			doc, err := GetInvoiceDetails(ctx, "inv-1")
			if err != nil {
				t.Error(err)
				return
			}
			if doc.ID != "inv-1" {
				t.Errorf("loaded id = %q, want inv-1", doc.ID)
			}
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("batch function ran %d times for one id, want 1", calls)
	}
	if len(keys) != 1 || keys[0] != "inv-1" {
		t.Errorf("batch keys = %v, want [inv-1]", keys)
	}
}

func TestLoaderBatchesDistinctIDs(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	var keys []string
	loaders := &Loaders{invoiceDetailsLoader: countingDocumentLoader(&calls, &keys, &mu)}
	ctx := context.WithValue(context.Background(), loadersKey, loaders)

	var wg sync.WaitGroup
	for _, id := range []string{"inv-1", "inv-2", "inv-1", "inv-2"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := GetInvoiceDetails(ctx, id); err != nil {
				t.Error(err)
			}
		}(id)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(keys) != 2 {
		t.Errorf("batch saw %d keys %v, want the 2 distinct ids", len(keys), keys)
	}
}

func TestForWithoutLoadersReturnsNil(t *testing.T) {
	if loaders := For(context.Background()); loaders != nil {
		t.Errorf("For on a bare context = %v, want nil", loaders)
	}
}
