package engine

import (
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/oddslab/crossarb/internal/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// MARKET MATCHING - Pair the same question across venues
// ═══════════════════════════════════════════════════════════════════════════════

const (
	// MinConfidenceThreshold is the title similarity needed to pair markets.
	MinConfidenceThreshold = 0.8
	// MaxDateDiffDays bounds the end-date disagreement for a pair.
	MaxDateDiffDays = 7
)

// stopwords carry no signal for market titles.
var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "will": true, "be": true,
	"to": true, "of": true, "in": true, "on": true, "by": true,
	"is": true, "at": true, "for": true, "or": true, "and": true,
}

// normalizeTitle lowercases, strips punctuation and drops stopwords.
func normalizeTitle(title string) []string {
	var b strings.Builder
	for _, r := range strings.ToLower(title) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == ' ' {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	var out []string
	for _, w := range strings.Fields(b.String()) {
		if !stopwords[w] {
			out = append(out, w)
		}
	}
	return out
}

// titleSimilarity is the Jaccard similarity of the normalized token sets.
func titleSimilarity(a, b string) float64 {
	ta, tb := normalizeTitle(a), normalizeTitle(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	set := make(map[string]bool, len(ta))
	for _, w := range ta {
		set[w] = true
	}
	inter := 0
	union := len(set)
	seen := make(map[string]bool, len(tb))
	for _, w := range tb {
		if seen[w] {
			continue
		}
		seen[w] = true
		if set[w] {
			inter++
		} else {
			union++
		}
	}
	return float64(inter) / float64(union)
}

// endDatesCompatible requires end dates within the allowed disagreement.
// Markets without end dates pair only with other undated markets.
func endDatesCompatible(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	diff := a.Sub(*b)
	if diff < 0 {
		diff = -diff
	}
	return diff <= MaxDateDiffDays*24*time.Hour
}

// MatchMarkets pairs alpha markets with beta markets judged to be the
// same underlying question. Each market joins at most one pair, greedily
// by similarity.
func MatchMarkets(alpha, beta []types.NormalizedMarket, matchedAt time.Time) []types.MarketPair {
	usedB := make(map[int]bool)
	var pairs []types.MarketPair

	for i := range alpha {
		ma := &alpha[i]
		yesA, noA, okA := ma.Binary()
		if !okA {
			continue
		}

		bestScore := 0.0
		bestJ := -1
		for j := range beta {
			if usedB[j] {
				continue
			}
			mb := &beta[j]
			if _, _, okB := mb.Binary(); !okB {
				continue
			}
			if !endDatesCompatible(ma.EndDate, mb.EndDate) {
				continue
			}
			if score := titleSimilarity(ma.Title, mb.Title); score > bestScore {
				bestScore = score
				bestJ = j
			}
		}
		if bestJ < 0 || bestScore < MinConfidenceThreshold {
			continue
		}

		mb := &beta[bestJ]
		yesB, noB, _ := mb.Binary()
		usedB[bestJ] = true
		pairs = append(pairs, types.MarketPair{
			MarketA:    ma.Key(),
			MarketB:    mb.Key(),
			Confidence: decimal.NewFromFloat(bestScore),
			OutcomeMap: map[string]string{
				yesA.ExternalID: yesB.ExternalID,
				noA.ExternalID:  noB.ExternalID,
			},
			Polarity:  types.PolaritySame,
			MatchedAt: matchedAt,
		})
		log.Info().
			Str("alpha", ma.Title).
			Str("beta", mb.Title).
			Float64("similarity", bestScore).
			Msg("🔗 Markets matched")
	}
	return pairs
}
