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
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	model2 "github.com/tallyops/tally/api/model"
	"github.com/tallyops/tally/model"
)

// CreateRun instantiates a draft run from a template.
func (a Api) CreateRun(c *gin.Context) {
	actor, ok := actorFromRequest(c)
	if !ok {
		return
	}

	var req model2.CreateRun
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := req.ValidateCreateRun(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	run, err := a.tally.CreateRun(c.Request.Context(), actor, req.ConfigID, req.Period)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, run)
}

// UploadSource attaches one side's file to a run and re-matches when
// both sides are present.
func (a Api) UploadSource(c *gin.Context) {
	actor, ok := actorFromRequest(c)
	if !ok {
		return
	}
	id, _ := c.Params.Get("id")
	side := model.Side(c.Param("side"))

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "File upload failed"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Could not read uploaded file"})
		return
	}

	run, err := a.tally.UploadSource(c.Request.Context(), actor, id, side, header.Filename, data)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, run)
}

// GetRun retrieves a run with its rows, matches and exceptions.
func (a Api) GetRun(c *gin.Context) {
	actor, ok := actorFromRequest(c)
	if !ok {
		return
	}
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	run, err := a.tally.GetRun(c.Request.Context(), actor, id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, run)
}

// GetRunSummary retrieves the hot summary fields of a run.
func (a Api) GetRunSummary(c *gin.Context) {
	actor, ok := actorFromRequest(c)
	if !ok {
		return
	}
	id, _ := c.Params.Get("id")

	run, err := a.tally.GetRunSummary(c.Request.Context(), actor, id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, run)
}

// GetAllRuns lists run summaries, optionally narrowed to one template
// via the config_id query parameter.
func (a Api) GetAllRuns(c *gin.Context) {
	actor, ok := actorFromRequest(c)
	if !ok {
		return
	}

	runs, err := a.tally.ListRuns(c.Request.Context(), actor, c.Query("config_id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, runs)
}

// CompleteRun signs off a run. Fails with the pending keys when
// unresolved exceptions remain.
func (a Api) CompleteRun(c *gin.Context) {
	actor, ok := actorFromRequest(c)
	if !ok {
		return
	}
	id, _ := c.Params.Get("id")

	run, err := a.tally.CompleteRun(c.Request.Context(), actor, id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, run)
}

// PreviewFile parses the first rows of a file without attaching it to
// a run, inferring a column layout for mapping UIs.
func (a Api) PreviewFile(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "File upload failed"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Could not read uploaded file"})
		return
	}

	result, err := a.tally.PreviewFile(c.Request.Context(), data, header.Filename)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}
