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
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/tallyops/tally/model"
)

// CreateConfig is the request body for creating a reconciliation
// template. Structural validation of the sources and rules happens in
// the service layer; this only checks the envelope.
type CreateConfig struct {
	BindingID string              `json:"binding_id"`
	Name      string              `json:"name"`
	SourceA   model.SourceConfig  `json:"source_a_config"`
	SourceB   model.SourceConfig  `json:"source_b_config"`
	Rules     model.MatchingRules `json:"matching_rules"`
	Viewers   []string            `json:"viewers,omitempty"`
}

func (c *CreateConfig) ValidateCreateConfig() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.BindingID, validation.Required),
		validation.Field(&c.Name, validation.Required),
	)
}

func (c *CreateConfig) ToConfig() model.ReconciliationConfig {
	return model.ReconciliationConfig{
		BindingID: c.BindingID,
		Name:      c.Name,
		SourceA:   c.SourceA,
		SourceB:   c.SourceB,
		Rules:     c.Rules,
		Viewers:   c.Viewers,
	}
}

// UpdateConfig is the request body for patching a template. Nil fields
// are left untouched.
type UpdateConfig struct {
	Name    *string              `json:"name,omitempty"`
	SourceA *model.SourceConfig  `json:"source_a_config,omitempty"`
	SourceB *model.SourceConfig  `json:"source_b_config,omitempty"`
	Rules   *model.MatchingRules `json:"matching_rules,omitempty"`
	Viewers *[]string            `json:"viewers,omitempty"`
}

// CreateRun is the request body for instantiating a run from a template.
type CreateRun struct {
	ConfigID string `json:"config_id"`
	Period   string `json:"period,omitempty"`
}

func (r *CreateRun) ValidateCreateRun() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.ConfigID, validation.Required),
	)
}

// UpdateException is the request body for a reviewer's decision on one
// exception entry.
type UpdateException struct {
	Category   *model.ExceptionCategory   `json:"category,omitempty"`
	Resolution *model.ExceptionResolution `json:"resolution,omitempty"`
	Notes      *string                    `json:"notes,omitempty"`
}

func (u *UpdateException) ToPatch() model.ExceptionPatch {
	return model.ExceptionPatch{
		Category:   u.Category,
		Resolution: u.Resolution,
		Notes:      u.Notes,
	}
}
