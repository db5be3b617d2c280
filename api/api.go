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
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/tallyops/tally"
	"github.com/tallyops/tally/api/middleware"
	"github.com/tallyops/tally/config"
	"github.com/tallyops/tally/internal/apierror"
	"github.com/tallyops/tally/model"
)

type Api struct {
	tally  *tally.Tally
	router *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router
	router.POST("/configs", a.CreateConfig)
	router.GET("/configs", a.GetAllConfigs)
	router.GET("/configs/:id", a.GetConfig)
	router.PUT("/configs/:id", a.UpdateConfig)
	router.DELETE("/configs/:id", a.DeleteConfig)

	router.POST("/runs", a.CreateRun)
	router.GET("/runs", a.GetAllRuns)
	router.GET("/runs/:id", a.GetRun)
	router.GET("/runs/:id/summary", a.GetRunSummary)
	router.POST("/runs/:id/sources/:side", a.UploadSource)
	router.POST("/runs/:id/complete", a.CompleteRun)

	router.GET("/runs/:id/exceptions", a.GetExceptions)
	router.PUT("/runs/:id/exceptions/:key", a.UpdateException)

	router.POST("/preview", a.PreviewFile)

	router.GET("/backup", a.BackupDB)
	router.GET("/backup-s3", a.BackupDBS3)
	return a.router
}

func NewAPI(t *tally.Tally) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.Default()
	r.Use(middleware.RateLimitMiddleware(conf))
	if conf.Server.Secure {
		r.Use(middleware.SecretKeyAuthMiddleware())
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(200, "server running...")
	})

	return &Api{tally: t, router: r}
}

// actorFromRequest derives the acting organization and user from the
// request headers. Organization is mandatory; every route is scoped by
// it.
func actorFromRequest(c *gin.Context) (model.ActorContext, bool) {
	actor := model.ActorContext{
		OrganizationID: c.GetHeader(middleware.OrganizationHeader),
		ActorID:        c.GetHeader(middleware.ActorHeader),
	}
	if actor.OrganizationID == "" {
		c.JSON(400, gin.H{"error": "organization header is required"})
		return actor, false
	}
	return actor, true
}

// respondError maps a service error onto an HTTP status, keeping the
// structured code and details when the error carries them.
func respondError(c *gin.Context, err error) {
	status := apierror.MapErrorToHTTPStatus(err)
	if status >= 500 {
		logrus.Error(err)
	}
	if apiErr, ok := err.(apierror.APIError); ok {
		c.JSON(status, gin.H{"error": apiErr.Message, "code": apiErr.Code, "details": apiErr.Details})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
