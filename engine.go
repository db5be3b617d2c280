/*
Copyright 2025 Tally Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package tally

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/texttheater/golang-levenshtein/levenshtein"
	"go.opentelemetry.io/otel"

	"github.com/tallyops/tally/model"
)

// MatchResult is the full outcome of one engine pass: matched pairs,
// exception records for every unplaced row, and the raw totals. Every
// input row lands in exactly one of matches or exceptions.
type MatchResult struct {
	Matches    []model.Match
	Exceptions []model.Exception
	Totals     model.RunTotals
}

// MatchSources reconciles two normalized row sets under the given
// rules. The engine never fails: an unmatched row is data (an
// exception record), not an error.
//
// The pass runs in two phases. First, rows are paired by identity
// reference where the reference is unique on both sides; any
// duplication of a reference, on either side, flags every row sharing
// it as a duplicate exception rather than guessing. Second, rows left
// over are matched by a deterministic score over amount, date window
// and optional description similarity, each B row consumed at most
// once. The result is byte-identical across reruns on identical input:
// no map-order iteration and no wall-clock tie-breaks.
func MatchSources(ctx context.Context, rowsA, rowsB []model.Row, rules model.MatchingRules) *MatchResult {
	_, span := otel.Tracer("Reconciliation").Start(ctx, "Matching sources")
	defer span.End()

	result := &MatchResult{
		Totals: model.RunTotals{
			TotalSourceA: sumAmounts(rowsA),
			TotalSourceB: sumAmounts(rowsB),
		},
	}
	result.Totals.Variance = result.Totals.TotalSourceA.Sub(result.Totals.TotalSourceB)

	consumedA := make([]bool, len(rowsA))
	consumedB := make([]bool, len(rowsB))

	matchByIdentity(rowsA, rowsB, consumedA, consumedB, result)
	matchByScore(rowsA, rowsB, consumedA, consumedB, rules, result)

	// Leftovers on either side become pending exceptions.
	for i, row := range rowsA {
		if !consumedA[i] {
			result.Exceptions = append(result.Exceptions, newException(model.SideA, row, model.CategoryOther))
		}
	}
	for i, row := range rowsB {
		if !consumedB[i] {
			result.Exceptions = append(result.Exceptions, newException(model.SideB, row, model.CategoryOther))
		}
	}

	result.Totals.MatchedCount = len(result.Matches)
	result.Totals.ExceptionCount = len(result.Exceptions)
	return result
}

// matchByIdentity pairs rows whose identity reference is unique on
// both sides. A reference shared by multiple rows, on either side,
// flags all of its rows as duplicate exceptions: ambiguity is
// surfaced, never silently resolved by picking the first candidate.
func matchByIdentity(rowsA, rowsB []model.Row, consumedA, consumedB []bool, result *MatchResult) {
	indexA := buildIdentityIndex(rowsA)
	indexB := buildIdentityIndex(rowsB)

	seen := make(map[string]bool)
	for i, row := range rowsA {
		ref := row.NormalizedReference()
		if ref == "" || seen[ref] {
			continue
		}
		seen[ref] = true

		aIdx := indexA[ref]
		bIdx := indexB[ref]
		if len(bIdx) == 0 {
			continue // falls through to the scored pass
		}

		if len(aIdx) == 1 && len(bIdx) == 1 {
			result.Matches = append(result.Matches, model.Match{
				ARowKey: row.RowKey,
				BRowKey: rowsB[bIdx[0]].RowKey,
				Method:  model.MatchMethodExact,
				Score:   1,
			})
			consumedA[i] = true
			consumedB[bIdx[0]] = true
			continue
		}

		for _, idx := range aIdx {
			result.Exceptions = append(result.Exceptions, newException(model.SideA, rowsA[idx], model.CategoryDuplicate))
			consumedA[idx] = true
		}
		for _, idx := range bIdx {
			result.Exceptions = append(result.Exceptions, newException(model.SideB, rowsB[idx], model.CategoryDuplicate))
			consumedB[idx] = true
		}
	}
}

func buildIdentityIndex(rows []model.Row) map[string][]int {
	index := make(map[string][]int)
	for i, row := range rows {
		if ref := row.NormalizedReference(); ref != "" {
			index[ref] = append(index[ref], i)
		}
	}
	return index
}

// matchByScore pairs leftover rows by amount, date window and optional
// description similarity. B rows are bucketed by whole-unit amount so
// candidate lookup stays sub-quadratic near the row ceiling.
func matchByScore(rowsA, rowsB []model.Row, consumedA, consumedB []bool, rules model.MatchingRules, result *MatchResult) {
	buckets := bucketByAmount(rowsB, consumedB)

	for i := range rowsA {
		if consumedA[i] {
			continue
		}
		best := findBestCandidate(rowsA[i], rowsB, consumedB, buckets, rules)
		if best < 0 {
			continue
		}
		score := float64(1)
		if rules.FuzzyDescription {
			score = descriptionSimilarity(rowsA[i].Description, rowsB[best].Description)
		}
		result.Matches = append(result.Matches, model.Match{
			ARowKey: rowsA[i].RowKey,
			BRowKey: rowsB[best].RowKey,
			Method:  model.MatchMethodScored,
			Score:   score,
		})
		consumedA[i] = true
		consumedB[best] = true
	}
}

// findBestCandidate returns the index of the best unconsumed B row for
// the given A row, or -1. Candidates must pass every enabled test;
// among those that do, the winner has the highest description
// similarity, then the smallest date delta, then the smallest amount
// delta, then the lowest original position.
func findBestCandidate(a model.Row, rowsB []model.Row, consumedB []bool, buckets *amountBuckets, rules model.MatchingRules) int {
	lo, hi := amountBounds(a.Amount, rules)

	candidates := buckets.inRange(lo, hi)

	best := -1
	var bestSim float64
	var bestDateDelta int
	var bestAmountDelta decimal.Decimal

	for _, j := range candidates {
		if consumedB[j] {
			continue
		}
		b := rowsB[j]

		amountDelta := a.Amount.Sub(b.Amount).Abs()
		if !amountWithinRule(a.Amount, b.Amount, rules) {
			continue
		}
		dateDelta := dayDelta(a.Date, b.Date)
		if dateDelta > rules.DateWindowDays {
			continue
		}
		sim := float64(0)
		if rules.FuzzyDescription {
			sim = descriptionSimilarity(a.Description, b.Description)
			if sim < rules.DescriptionThreshold {
				continue
			}
		}

		if best < 0 || betterCandidate(sim, dateDelta, amountDelta, bestSim, bestDateDelta, bestAmountDelta) {
			best, bestSim, bestDateDelta, bestAmountDelta = j, sim, dateDelta, amountDelta
		}
	}
	return best
}

func betterCandidate(sim float64, dateDelta int, amountDelta decimal.Decimal, bestSim float64, bestDateDelta int, bestAmountDelta decimal.Decimal) bool {
	if sim != bestSim {
		return sim > bestSim
	}
	if dateDelta != bestDateDelta {
		return dateDelta < bestDateDelta
	}
	return amountDelta.LessThan(bestAmountDelta)
}

// amountBuckets indexes unconsumed B rows by whole-unit amount. The
// keys are kept sorted so a tolerance range resolves to the populated
// buckets it covers, never to a walk over the span itself; the lookup
// cost depends on the row count, not on the amounts involved.
type amountBuckets struct {
	byKey map[int64][]int
	keys  []int64
}

func bucketByAmount(rowsB []model.Row, consumedB []bool) *amountBuckets {
	byKey := make(map[int64][]int)
	for i := range rowsB {
		if consumedB[i] {
			continue
		}
		key := clampBucketKey(rowsB[i].Amount.Floor())
		byKey[key] = append(byKey[key], i)
	}
	keys := make([]int64, 0, len(byKey))
	for key := range byKey {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return &amountBuckets{byKey: byKey, keys: keys}
}

// inRange returns the row indices bucketed under [lo, hi], in original
// position order.
func (b *amountBuckets) inRange(lo, hi decimal.Decimal) []int {
	loKey := clampBucketKey(lo.Floor())
	hiKey := clampBucketKey(hi.Floor())

	start := sort.Search(len(b.keys), func(i int) bool { return b.keys[i] >= loKey })
	var candidates []int
	for _, key := range b.keys[start:] {
		if key > hiKey {
			break
		}
		candidates = append(candidates, b.byKey[key]...)
	}
	sort.Ints(candidates)
	return candidates
}

var (
	minBucketKey = decimal.NewFromInt(math.MinInt64)
	maxBucketKey = decimal.NewFromInt(math.MaxInt64)
)

// clampBucketKey saturates a floored bound at the int64 range so
// amounts past it still resolve to a usable key.
func clampBucketKey(d decimal.Decimal) int64 {
	if d.LessThan(minBucketKey) {
		return math.MinInt64
	}
	if d.GreaterThan(maxBucketKey) {
		return math.MaxInt64
	}
	return d.IntPart()
}

// amountBounds returns the candidate amount range for bucket lookup.
func amountBounds(amount decimal.Decimal, rules model.MatchingRules) (decimal.Decimal, decimal.Decimal) {
	if rules.AmountMatch != model.AmountMatchTolerance || rules.AmountTolerancePct <= 0 {
		return amount, amount
	}
	tolerance := amount.Abs().Mul(decimal.NewFromFloat(rules.AmountTolerancePct / 100))
	return amount.Sub(tolerance), amount.Add(tolerance)
}

func amountWithinRule(a, b decimal.Decimal, rules model.MatchingRules) bool {
	if rules.AmountMatch == model.AmountMatchTolerance {
		tolerance := a.Abs().Mul(decimal.NewFromFloat(rules.AmountTolerancePct / 100))
		return a.Sub(b).Abs().LessThanOrEqual(tolerance)
	}
	return a.Equal(b)
}

// dayDelta is the absolute difference in calendar days, ignoring the
// time-of-day component. The date window is inclusive at its boundary.
func dayDelta(a, b time.Time) int {
	aDay := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	bDay := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	delta := int(aDay.Sub(bDay).Hours() / 24)
	if delta < 0 {
		delta = -delta
	}
	return delta
}

// descriptionSimilarity is a normalized edit-distance score in 0..1,
// case-insensitive. Two empty descriptions score 1.
func descriptionSimilarity(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == b {
		return 1
	}
	maxLen := len([]rune(a))
	if l := len([]rune(b)); l > maxLen {
		maxLen = l
	}
	if maxLen == 0 {
		return 1
	}
	distance := levenshtein.DistanceForStrings([]rune(a), []rune(b), levenshtein.DefaultOptions)
	return 1 - float64(distance)/float64(maxLen)
}

func newException(side model.Side, row model.Row, category model.ExceptionCategory) model.Exception {
	return model.Exception{
		Key:        model.ExceptionKey(side, row.RowKey),
		Side:       side,
		RowKey:     row.RowKey,
		Category:   category,
		Resolution: model.ResolutionPending,
	}
}

func sumAmounts(rows []model.Row) decimal.Decimal {
	total := decimal.Zero
	for _, row := range rows {
		total = total.Add(row.Amount)
	}
	return total
}
