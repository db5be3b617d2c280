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

	model2 "github.com/tallyops/tally/api/model"
)

// GetExceptions retrieves a run's exception entries keyed by stable key.
func (a Api) GetExceptions(c *gin.Context) {
	actor, ok := actorFromRequest(c)
	if !ok {
		return
	}
	id, _ := c.Params.Get("id")

	exceptions, err := a.tally.GetExceptions(c.Request.Context(), actor, id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, exceptions)
}

// UpdateException applies a reviewer's decision to one exception entry.
func (a Api) UpdateException(c *gin.Context) {
	actor, ok := actorFromRequest(c)
	if !ok {
		return
	}
	id, _ := c.Params.Get("id")
	key, passed := c.Params.Get("key")
	if !passed || key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "exception key is required. pass key in the route /:key"})
		return
	}

	var req model2.UpdateException
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ex, err := a.tally.UpdateException(c.Request.Context(), actor, id, key, req.ToPatch())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, ex)
}
