package matching

import (
	"reflect"
	"testing"

	"github.com/shopspring/decimal"
)

func item(desc string, qty int, price float64) LineItem {
	return LineItem{
		Description: desc,
		Qty:         qty,
		UnitPrice:   decimal.NewFromFloat(price),
	}
}

func TestSimilarityReflexive(t *testing.T) {
	descriptions := []string{
		"Chicken breast",
		"Milk 1L",
		"  Tomatoes, box (TK-40021) ",
		"x",
	}
	for _, desc := range descriptions {
		if got := Similarity(desc, desc); got != 1 {
			t.Errorf("Similarity(%q, %q) = %v, want 1", desc, desc, got)
		}
	}
}

func TestSimilarityEmptyDescriptions(t *testing.T) {
	if got := Similarity("", "milk"); got != 0 {
		t.Errorf("empty vs non-empty = %v, want 0", got)
	}
	if got := Similarity("   ", "   "); got != 0 {
		t.Errorf("blank vs blank = %v, want 0", got)
	}
}

func TestSimilarityIgnoresCaseAndPunctuation(t *testing.T) {
	if got := Similarity("Chicken breast", "chicken breast"); got != 1 {
		t.Errorf("case-insensitive match = %v, want 1", got)
	}
	if got := Similarity("Milk, 1L.", "milk 1l"); got != 1 {
		t.Errorf("punctuation-insensitive match = %v, want 1", got)
	}
}

func TestMatchLineItemsExact(t *testing.T) {
	results := MatchLineItems(
		[]LineItem{item("Chicken breast", 10, 2)},
		[]LineItem{item("chicken breast", 8, 2)},
		0,
	)
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	r := results[0]
	if r.MatchType != MatchTypeExact {
		t.Errorf("matchType = %s, want exact", r.MatchType)
	}
	if r.Similarity != 1 {
		t.Errorf("similarity = %v, want 1", r.Similarity)
	}
	if r.DeliveryItem == nil || r.DeliveryItem.Qty != 8 {
		t.Errorf("delivery item not carried through: %+v", r.DeliveryItem)
	}
}

func TestMatchLineItemsSkuClassification(t *testing.T) {
	results := MatchLineItems(
		[]LineItem{item("Beef mince 5kg AB123", 4, 9)},
		[]LineItem{item("Beef minced 5kg AB123", 4, 9)},
		0,
	)
	if results[0].MatchType != MatchTypeSku {
		t.Errorf("matchType = %s, want sku (score %v)", results[0].MatchType, results[0].Similarity)
	}
}

func TestMatchLineItemsFuzzyClassification(t *testing.T) {
	results := MatchLineItems(
		[]LineItem{item("green apples bag", 2, 3)},
		[]LineItem{item("green apple bag", 2, 3)},
		0,
	)
	if results[0].MatchType != MatchTypeFuzzy {
		t.Errorf("matchType = %s, want fuzzy (score %v)", results[0].MatchType, results[0].Similarity)
	}
}

func TestMatchLineItemsPartialDoesNotConsume(t *testing.T) {
	// "cheddar cheese block" vs "cheddar cheese sliced" scores inside the
	// partial band: the candidate is surfaced but stays available.
	results := MatchLineItems(
		[]LineItem{
			item("cheddar cheese block", 2, 4),
			item("cheddar cheese sliced", 1, 4),
		},
		[]LineItem{item("cheddar cheese sliced", 1, 4)},
		0,
	)
	if results[0].MatchType != MatchTypePartial {
		t.Fatalf("first matchType = %s, want partial (score %v)", results[0].MatchType, results[0].Similarity)
	}
	if results[1].MatchType != MatchTypeExact {
		t.Errorf("second matchType = %s, want exact; partial must not consume", results[1].MatchType)
	}
}

func TestMatchLineItemsNone(t *testing.T) {
	results := MatchLineItems(
		[]LineItem{item("olive oil", 1, 6)},
		[]LineItem{item("paper towels", 1, 2)},
		0,
	)
	r := results[0]
	if r.MatchType != MatchTypeNone {
		t.Errorf("matchType = %s, want none", r.MatchType)
	}
	if r.DeliveryItem != nil {
		t.Errorf("delivery item must be absent for none, got %+v", r.DeliveryItem)
	}
}

func TestMatchLineItemsEmptyDescriptionNeverMatches(t *testing.T) {
	results := MatchLineItems(
		[]LineItem{item("", 1, 1)},
		[]LineItem{item("", 1, 1), item("milk", 1, 1)},
		0,
	)
	if results[0].MatchType != MatchTypeNone || results[0].DeliveryItem != nil {
		t.Errorf("empty description matched: %+v", results[0])
	}
}

func TestMatchLineItemsGreedyConsumption(t *testing.T) {
	// Two identical invoice rows compete for one delivery row; only the
	// first gets it.
	results := MatchLineItems(
		[]LineItem{item("Milk 1L", 5, 1), item("Milk 1L", 3, 1)},
		[]LineItem{item("Milk 1L", 5, 1)},
		0,
	)
	if results[0].MatchType != MatchTypeExact {
		t.Errorf("first matchType = %s, want exact", results[0].MatchType)
	}
	if results[1].MatchType == MatchTypeExact {
		t.Errorf("second row reused a consumed delivery item")
	}
}

func TestMatchLineItemsDeterministic(t *testing.T) {
	invoiceItems := []LineItem{
		item("Chicken breast", 10, 2),
		item("Milk 1L", 5, 1),
		item("Tomatoes box TK-40021", 12, 10),
	}
	deliveryItems := []LineItem{
		item("Tomato boxes TK-40021", 10, 10),
		item("chicken breast", 8, 2),
		item("Milk 1L", 5, 1),
	}

	first := MatchLineItems(invoiceItems, deliveryItems, 0)
	second := MatchLineItems(invoiceItems, deliveryItems, 0)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("match results are not deterministic:\n%+v\n%+v", first, second)
	}
	if len(first) != len(invoiceItems) {
		t.Errorf("got %d results, want one per invoice item (%d)", len(first), len(invoiceItems))
	}
	for i := range first {
		if first[i].InvoiceItem.Description != invoiceItems[i].Description {
			t.Errorf("result %d out of order: %s", i, first[i].InvoiceItem.Description)
		}
	}
}

func TestMatchLineItemsThresholdDefault(t *testing.T) {
	withZero := MatchLineItems(
		[]LineItem{item("green apples bag", 2, 3)},
		[]LineItem{item("green apple bag", 2, 3)},
		0,
	)
	withDefault := MatchLineItems(
		[]LineItem{item("green apples bag", 2, 3)},
		[]LineItem{item("green apple bag", 2, 3)},
		DefaultSimilarityThreshold,
	)
	if !reflect.DeepEqual(withZero, withDefault) {
		t.Errorf("threshold 0 must behave as the default threshold")
	}
}
