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
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// ColumnType is the closed set of cell types a source column can carry.
// It is validated once when a config is saved, never re-checked ad hoc.
type ColumnType string

const (
	ColumnText     ColumnType = "text"
	ColumnNumber   ColumnType = "number"
	ColumnDate     ColumnType = "date"
	ColumnCurrency ColumnType = "currency"
)

// AmountMatchMode selects how amounts on the two sides are compared.
type AmountMatchMode string

const (
	AmountMatchExact     AmountMatchMode = "exact"
	AmountMatchTolerance AmountMatchMode = "tolerance"
)

// ColumnDef describes one column of a source file.
type ColumnDef struct {
	Key        string     `json:"key"`
	Label      string     `json:"label"`
	Type       ColumnType `json:"type"`
	IsIdentity bool       `json:"is_identity,omitempty"`
}

// SourceConfig is the schema expected of one side of a reconciliation.
type SourceConfig struct {
	Label   string      `json:"label"`
	Columns []ColumnDef `json:"columns"`
}

// ColumnRoles resolves which columns of a source play the amount, date,
// description and identity roles during matching.
type ColumnRoles struct {
	Identity    *ColumnDef
	Amount      *ColumnDef
	Date        *ColumnDef
	Description *ColumnDef
}

// Roles derives the matching roles from the ordered column definitions.
// The first currency (or number) column carries the amount, the first
// date column the date, and the first non-identity text column the
// description.
func (sc SourceConfig) Roles() ColumnRoles {
	var roles ColumnRoles
	for i := range sc.Columns {
		col := &sc.Columns[i]
		if col.IsIdentity && roles.Identity == nil {
			roles.Identity = col
		}
		switch col.Type {
		case ColumnCurrency:
			// a currency column outranks a number column seen earlier
			if roles.Amount == nil || roles.Amount.Type == ColumnNumber {
				roles.Amount = col
			}
		case ColumnNumber:
			if roles.Amount == nil {
				roles.Amount = col
			}
		case ColumnDate:
			if roles.Date == nil {
				roles.Date = col
			}
		case ColumnText:
			if !col.IsIdentity && roles.Description == nil {
				roles.Description = col
			}
		}
	}
	return roles
}

// MatchingRules is the matching policy for a reconciliation template.
// Runs keep a denormalized copy of the rules they ran under, so editing
// a template never changes what a historical run reports.
type MatchingRules struct {
	AmountMatch          AmountMatchMode `json:"amount_match"`
	AmountTolerancePct   float64         `json:"amount_tolerance_pct,omitempty"`
	DateWindowDays       int             `json:"date_window_days"`
	FuzzyDescription     bool            `json:"fuzzy_description"`
	DescriptionThreshold float64         `json:"description_threshold,omitempty"`
}

// ReconciliationConfig is an organization-scoped reconciliation template.
type ReconciliationConfig struct {
	ID             int64         `json:"-"`
	ConfigID       string        `json:"config_id"`
	OrganizationID string        `json:"organization_id"`
	BindingID      string        `json:"binding_id"`
	Name           string        `json:"name"`
	SourceA        SourceConfig  `json:"source_a_config"`
	SourceB        SourceConfig  `json:"source_b_config"`
	Rules          MatchingRules `json:"matching_rules"`
	Viewers        []string      `json:"viewers,omitempty"`
	CreatedBy      string        `json:"created_by"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

func (c ColumnDef) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Key, validation.Required),
		validation.Field(&c.Label, validation.Required),
		validation.Field(&c.Type, validation.Required, validation.In(
			ColumnText, ColumnNumber, ColumnDate, ColumnCurrency)),
	)
}

func (sc SourceConfig) Validate() error {
	if err := validation.ValidateStruct(&sc,
		validation.Field(&sc.Label, validation.Required),
		validation.Field(&sc.Columns, validation.Required, validation.Length(1, 100)),
	); err != nil {
		return err
	}
	for _, col := range sc.Columns {
		if err := col.Validate(); err != nil {
			return err
		}
	}
	roles := sc.Roles()
	return validation.Errors{
		"columns": validation.Validate(roles.Amount, validation.Required.Error("an amount column (currency or number) is required")),
	}.Filter()
}

func (r MatchingRules) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.AmountMatch, validation.Required, validation.In(
			AmountMatchExact, AmountMatchTolerance)),
		validation.Field(&r.AmountTolerancePct, validation.Min(0.0), validation.Max(100.0)),
		validation.Field(&r.DateWindowDays, validation.Min(0)),
		validation.Field(&r.DescriptionThreshold, validation.Min(0.0), validation.Max(1.0)),
	)
}

// Validate checks the template as a whole. It is run at save time; the
// engine and parser trust configs that passed it.
func (c ReconciliationConfig) Validate() error {
	if err := validation.ValidateStruct(&c,
		validation.Field(&c.OrganizationID, validation.Required),
		validation.Field(&c.BindingID, validation.Required),
		validation.Field(&c.Name, validation.Required, validation.Length(1, 255)),
	); err != nil {
		return err
	}
	if err := c.SourceA.Validate(); err != nil {
		return err
	}
	if err := c.SourceB.Validate(); err != nil {
		return err
	}
	return c.Rules.Validate()
}
