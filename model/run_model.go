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
package model

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// RunStatus is the run lifecycle state machine:
// draft -> partial -> matched -> review -> completed.
// A run with zero pending exceptions after matching goes straight to
// matched and is eligible for completion. completed is terminal.
type RunStatus string

const (
	RunStatusDraft     RunStatus = "draft"
	RunStatusPartial   RunStatus = "partial"
	RunStatusMatched   RunStatus = "matched"
	RunStatusReview    RunStatus = "review"
	RunStatusCompleted RunStatus = "completed"
)

// Side identifies which of the two datasets a row belongs to.
type Side string

const (
	SideA Side = "a"
	SideB Side = "b"
)

func (s Side) Valid() bool { return s == SideA || s == SideB }

// MatchMethod records how a pair was matched.
type MatchMethod string

const (
	MatchMethodExact  MatchMethod = "exact"  // identity column match
	MatchMethodScored MatchMethod = "scored" // amount/date/description fallback
)

// ExceptionCategory classifies why a row needs human review.
type ExceptionCategory string

const (
	CategoryTiming         ExceptionCategory = "timing"
	CategoryDataEntryError ExceptionCategory = "data_entry_error"
	CategoryMissingRecord  ExceptionCategory = "missing_record"
	CategoryDuplicate      ExceptionCategory = "duplicate"
	CategoryAmbiguous      ExceptionCategory = "ambiguous"
	CategoryOther          ExceptionCategory = "other"
)

func ValidCategory(c ExceptionCategory) bool {
	switch c {
	case CategoryTiming, CategoryDataEntryError, CategoryMissingRecord,
		CategoryDuplicate, CategoryAmbiguous, CategoryOther:
		return true
	}
	return false
}

// ExceptionResolution is the review state of an exception entry.
type ExceptionResolution string

const (
	ResolutionPending    ExceptionResolution = "pending"
	ResolutionResolved   ExceptionResolution = "resolved"
	ResolutionWrittenOff ExceptionResolution = "written_off"
)

func ValidResolution(r ExceptionResolution) bool {
	switch r {
	case ResolutionPending, ResolutionResolved, ResolutionWrittenOff:
		return true
	}
	return false
}

// Row is one normalized source record. Amount, Date, Description and
// Reference are the typed role fields the engine matches on; Fields
// keeps the raw cells keyed by column key.
type Row struct {
	RowKey      string            `json:"row_key"`
	Position    int               `json:"position"`
	Amount      decimal.Decimal   `json:"amount"`
	Date        time.Time         `json:"date"`
	Description string            `json:"description"`
	Reference   string            `json:"reference"`
	Fields      map[string]string `json:"fields,omitempty"`
}

// NormalizedReference folds the identity value for index lookups.
func (r Row) NormalizedReference() string {
	return strings.ToLower(strings.TrimSpace(r.Reference))
}

// AssignRowKeys derives a stable key for every row in place. Rows with
// a non-empty identity value are keyed "ref:<normalized>", with a
// "#<n>" occurrence suffix when the value repeats within the side, so
// duplicated references still yield distinct keys. Rows without an
// identity value fall back to "row:<position>". Keys depend only on
// row content and position, never on parse order randomness, so the
// same file always produces the same keys.
func AssignRowKeys(rows []Row) {
	seen := make(map[string]int, len(rows))
	for i := range rows {
		rows[i].Position = i
		ref := rows[i].NormalizedReference()
		if ref == "" {
			rows[i].RowKey = fmt.Sprintf("row:%d", i)
			continue
		}
		key := "ref:" + ref
		if n := seen[ref]; n > 0 {
			key = fmt.Sprintf("%s#%d", key, n)
		}
		seen[ref]++
		rows[i].RowKey = key
	}
}

// SourceFile is one attached side of a run: the file metadata plus the
// parsed, normalized rows.
type SourceFile struct {
	FileName   string    `json:"file_name"`
	StorageKey string    `json:"storage_key,omitempty"`
	RowCount   int       `json:"row_count"`
	Rows       []Row     `json:"rows,omitempty"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// Match pairs one row of source A with one row of source B.
type Match struct {
	ARowKey string      `json:"a_row_key"`
	BRowKey string      `json:"b_row_key"`
	Method  MatchMethod `json:"method"`
	Score   float64     `json:"score"`
}

// Exception is an unmatched or ambiguous row awaiting human review.
// Its key is stable across re-matching of the same rows, so a
// reviewer's update always targets exactly one record.
type Exception struct {
	Key        string              `json:"key"`
	Side       Side                `json:"side"`
	RowKey     string              `json:"row_key"`
	Category   ExceptionCategory   `json:"category"`
	Resolution ExceptionResolution `json:"resolution"`
	Notes      string              `json:"notes,omitempty"`
	ResolvedBy string              `json:"resolved_by,omitempty"`
}

// ExceptionKey derives the stable exception key for a row.
func ExceptionKey(side Side, rowKey string) string {
	return fmt.Sprintf("%s:%s", side, rowKey)
}

// ExceptionPatch carries the fields of an exception a reviewer wants to
// change. Nil fields are left untouched (field-level merge, never a
// whole-object overwrite).
type ExceptionPatch struct {
	Category   *ExceptionCategory   `json:"category,omitempty"`
	Resolution *ExceptionResolution `json:"resolution,omitempty"`
	Notes      *string              `json:"notes,omitempty"`
}

// RunTotals are the hot summary figures of a run. Variance is a
// property of the raw totals, independent of match outcome.
type RunTotals struct {
	TotalSourceA   decimal.Decimal `json:"total_source_a"`
	TotalSourceB   decimal.Decimal `json:"total_source_b"`
	MatchedCount   int             `json:"matched_count"`
	ExceptionCount int             `json:"exception_count"`
	Variance       decimal.Decimal `json:"variance"`
}

// Run is one reconciliation attempt against a config. Rules and source
// schemas are denormalized at creation so the run stays reproducible if
// the template later changes or is deleted.
type Run struct {
	ID             int64                `json:"-"`
	RunID          string               `json:"run_id"`
	ConfigID       string               `json:"config_id"`
	OrganizationID string               `json:"organization_id"`
	Period         string               `json:"period,omitempty"`
	Status         RunStatus            `json:"status"`
	Rules          MatchingRules        `json:"matching_rules"`
	SourceAConfig  SourceConfig         `json:"source_a_config"`
	SourceBConfig  SourceConfig         `json:"source_b_config"`
	SourceA        *SourceFile          `json:"source_a,omitempty"`
	SourceB        *SourceFile          `json:"source_b,omitempty"`
	Matches        []Match              `json:"matches,omitempty"`
	Exceptions     map[string]Exception `json:"exceptions,omitempty"`
	Totals         RunTotals            `json:"totals"`
	CreatedBy      string               `json:"created_by"`
	CreatedAt      time.Time            `json:"created_at"`
	CompletedAt    *time.Time           `json:"completed_at,omitempty"`
	CompletedBy    string               `json:"completed_by,omitempty"`
}

// Completed reports whether the run has reached its terminal state.
func (r *Run) Completed() bool { return r.Status == RunStatusCompleted }

// BothSidesPresent reports whether matching can run.
func (r *Run) BothSidesPresent() bool { return r.SourceA != nil && r.SourceB != nil }

// PendingExceptionKeys returns the keys of unresolved exceptions in
// deterministic (sorted) order.
func (r *Run) PendingExceptionKeys() []string {
	var keys []string
	for key, ex := range r.Exceptions {
		if ex.Resolution == ResolutionPending {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}
