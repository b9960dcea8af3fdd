package matching

import (
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
)

// DefaultSimilarityThreshold is the fuzzy-match cutoff used when callers do
// not supply one.
const DefaultSimilarityThreshold = 0.85

// partialBand is subtracted from the threshold to form the lower bound of the
// partial-match band: scores in [threshold-partialBand, threshold) surface as
// partial but are not treated as matched for quantity purposes.
const partialBand = 0.15

// NormalizeDescription lowercases, trims, strips punctuation and collapses
// whitespace so that free-text descriptions from independently authored
// documents become comparable.
func NormalizeDescription(desc string) string {
	var b strings.Builder
	b.Grow(len(desc))
	lastSpace := true
	for _, r := range strings.ToLower(strings.TrimSpace(desc)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		default:
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

func tokenSet(normalized string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(normalized) {
		set[tok] = struct{}{}
	}
	return set
}

// tokenSimilarity is the Jaccard overlap of the two token sets.
func tokenSimilarity(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// editRatio converts an edit distance into a similarity in [0,1].
func editRatio(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	longest := len([]rune(a))
	if l := len([]rune(b)); l > longest {
		longest = l
	}
	dist := levenshtein.ComputeDistance(a, b)
	if dist >= longest {
		return 0
	}
	return 1 - float64(dist)/float64(longest)
}

// Similarity scores two raw descriptions in [0,1]. The score is the stronger
// of token-set overlap and edit-distance ratio; identical normalized
// descriptions always score 1.
func Similarity(desc1, desc2 string) float64 {
	norm1 := NormalizeDescription(desc1)
	norm2 := NormalizeDescription(desc2)
	if norm1 == "" || norm2 == "" {
		return 0
	}
	if norm1 == norm2 {
		return 1
	}
	tok := tokenSimilarity(tokenSet(norm1), tokenSet(norm2))
	ed := editRatio(norm1, norm2)
	if ed > tok {
		return ed
	}
	return tok
}

// sharedCodeToken reports whether both items carry the same recognizable
// product code: either equal explicit SKUs, or a shared description token
// that mixes letters and digits (e.g. "ab123", "tk-40021" after
// normalization).
func sharedCodeToken(inv, del LineItem) bool {
	invSku := strings.ToUpper(strings.TrimSpace(inv.SKU))
	delSku := strings.ToUpper(strings.TrimSpace(del.SKU))
	if invSku != "" && invSku == delSku {
		return true
	}

	delTokens := tokenSet(NormalizeDescription(del.Description))
	for tok := range tokenSet(NormalizeDescription(inv.Description)) {
		if !isCodeToken(tok) {
			continue
		}
		if _, ok := delTokens[tok]; ok {
			return true
		}
	}
	return false
}

func isCodeToken(tok string) bool {
	if len(tok) < 4 {
		return false
	}
	hasLetter, hasDigit := false, false
	for _, r := range tok {
		if unicode.IsLetter(r) {
			hasLetter = true
		}
		if unicode.IsDigit(r) {
			hasDigit = true
		}
	}
	return hasLetter && hasDigit
}

// MatchLineItems fuzzy-matches invoice items against delivery items, one
// result per invoice item in original order.
//
// Assignment is greedy, not globally optimal: each invoice item takes the
// highest-scoring delivery item not yet consumed by an earlier match, with
// the edit-distance ratio breaking score ties and remaining ties going to the
// first-encountered delivery item. A delivery item is consumed only by a real
// match (exact/sku/fuzzy); partial candidates stay available.
//
// threshold <= 0 selects DefaultSimilarityThreshold. Items with empty
// descriptions never match.
func MatchLineItems(invoiceItems, deliveryItems []LineItem, threshold float64) []MatchResult {
	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}

	used := make(map[int]bool, len(deliveryItems))
	results := make([]MatchResult, 0, len(invoiceItems))

	for _, inv := range invoiceItems {
		invNorm := NormalizeDescription(inv.Description)

		bestIdx := -1
		bestScore := 0.0
		bestEdit := 0.0

		if invNorm != "" {
			invTokens := tokenSet(invNorm)
			for idx, del := range deliveryItems {
				if used[idx] {
					continue
				}
				delNorm := NormalizeDescription(del.Description)
				if delNorm == "" {
					continue
				}

				var score, ed float64
				if invNorm == delNorm {
					score, ed = 1, 1
				} else {
					tok := tokenSimilarity(invTokens, tokenSet(delNorm))
					ed = editRatio(invNorm, delNorm)
					score = tok
					if ed > score {
						score = ed
					}
				}

				if score > bestScore || (score == bestScore && ed > bestEdit) {
					bestIdx = idx
					bestScore = score
					bestEdit = ed
				}
			}
		}

		result := MatchResult{InvoiceItem: inv, MatchType: MatchTypeNone}
		if bestIdx >= 0 {
			matchType := classifyScore(bestScore, threshold, inv, deliveryItems[bestIdx])
			if matchType != MatchTypeNone {
				del := deliveryItems[bestIdx]
				result.DeliveryItem = &del
				result.Similarity = bestScore
				result.MatchType = matchType
				if matchType.Matched() {
					used[bestIdx] = true
				}
			}
		}
		results = append(results, result)
	}
	return results
}

func classifyScore(score, threshold float64, inv, del LineItem) MatchType {
	switch {
	case score >= 1:
		return MatchTypeExact
	case score >= threshold && sharedCodeToken(inv, del):
		return MatchTypeSku
	case score >= threshold:
		return MatchTypeFuzzy
	case score >= threshold-partialBand:
		return MatchTypePartial
	default:
		return MatchTypeNone
	}
}
