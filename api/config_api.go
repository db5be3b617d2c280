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

package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tallyops/tally"
	model2 "github.com/tallyops/tally/api/model"
)

// CreateConfig creates a new reconciliation template.
func (a Api) CreateConfig(c *gin.Context) {
	actor, ok := actorFromRequest(c)
	if !ok {
		return
	}

	var req model2.CreateConfig
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := req.ValidateCreateConfig(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cfg, err := a.tally.CreateConfig(c.Request.Context(), actor, req.ToConfig())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, cfg)
}

// GetConfig retrieves one template by id.
func (a Api) GetConfig(c *gin.Context) {
	actor, ok := actorFromRequest(c)
	if !ok {
		return
	}
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	cfg, err := a.tally.GetConfig(c.Request.Context(), actor, id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, cfg)
}

// GetAllConfigs lists the organization's templates.
func (a Api) GetAllConfigs(c *gin.Context) {
	actor, ok := actorFromRequest(c)
	if !ok {
		return
	}

	configs, err := a.tally.ListConfigs(c.Request.Context(), actor)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, configs)
}

// UpdateConfig merges the supplied fields into an existing template.
func (a Api) UpdateConfig(c *gin.Context) {
	actor, ok := actorFromRequest(c)
	if !ok {
		return
	}
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	var req model2.UpdateConfig
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cfg, err := a.tally.UpdateConfig(c.Request.Context(), actor, id, tally.ConfigPatch{
		Name:    req.Name,
		SourceA: req.SourceA,
		SourceB: req.SourceB,
		Rules:   req.Rules,
		Viewers: req.Viewers,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, cfg)
}

// DeleteConfig removes a template. Existing runs keep their
// denormalized copy and are untouched.
func (a Api) DeleteConfig(c *gin.Context) {
	actor, ok := actorFromRequest(c)
	if !ok {
		return
	}
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	if err := a.tally.DeleteConfig(c.Request.Context(), actor, id); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Reconciliation config deleted successfully"})
}
