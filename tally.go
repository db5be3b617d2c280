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
	"embed"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/tallyops/tally/cache"
	"github.com/tallyops/tally/config"
	"github.com/tallyops/tally/database"
	"github.com/tallyops/tally/internal/blobstore"
	"github.com/tallyops/tally/internal/extractor"
	redis_db "github.com/tallyops/tally/internal/redis-db"
)

//go:embed sql/*.sql
var SQLFiles embed.FS

// Tally is the reconciliation service: template management, run
// lifecycle, the matching engine and exception review.
type Tally struct {
	datasource database.IDataSource
	cache      cache.Cache
	redis      redis.UniversalClient
	parser     *Parser
	blob       blobstore.Store
	policy     config.ReconciliationPolicy
	upload     config.UploadConfig
}

// NewTally initializes a new instance of Tally with the provided database datasource.
// It fetches the configuration and wires up Redis, the cache, the file parser and
// the optional blob store and extraction collaborator.
//
// Parameters:
// - db database.IDataSource: The datasource for database operations.
//
// Returns:
// - *Tally: A pointer to the newly created Tally instance.
// - error: An error if any of the initialization steps fail.
func NewTally(db database.IDataSource) (*Tally, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	redisClient, err := redis_db.NewRedisClient([]string{fmt.Sprintf("redis://%s", configuration.Redis.Dns)})
	if err != nil {
		return nil, err
	}
	newCache, err := cache.NewCache()
	if err != nil {
		return nil, err
	}

	var ext extractor.Extractor
	if configuration.Extractor.Url != "" {
		ext = extractor.NewHTTPExtractor(configuration.Extractor.Url, configuration.Extractor.TimeoutSec)
	}

	var blob blobstore.Store
	if configuration.S3.BucketName != "" {
		blob, err = blobstore.NewS3Store(configuration)
		if err != nil {
			// Raw file persistence is audit support, not a hard dependency.
			logrus.WithError(err).Warn("blob store unavailable, raw uploads will not be persisted")
			blob = nil
		}
	}

	return &Tally{
		datasource: db,
		cache:      newCache,
		redis:      redisClient.Client(),
		parser:     NewParser(configuration.Upload, ext),
		blob:       blob,
		policy:     configuration.Reconciliation,
		upload:     configuration.Upload,
	}, nil
}
