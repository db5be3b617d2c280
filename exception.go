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
	"fmt"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/tallyops/tally/cache"
	"github.com/tallyops/tally/internal/apierror"
	"github.com/tallyops/tally/model"
)

// UpdateException applies a reviewer's decision to one exception entry
// by its stable key, merging only the supplied fields. Sibling entries
// are never touched, and updates to different keys on the same run do
// not block or clobber each other; the store merges field-by-field
// rather than overwriting the whole record.
func (t *Tally) UpdateException(ctx context.Context, actor model.ActorContext, runID, key string, patch model.ExceptionPatch) (*model.Exception, error) {
	ctx, span := otel.Tracer("Exception").Start(ctx, "Updating exception")
	defer span.End()

	if patch.Category != nil && !model.ValidCategory(*patch.Category) {
		return nil, apierror.Validation(fmt.Sprintf("invalid category %q", *patch.Category), nil)
	}
	if patch.Resolution != nil && !model.ValidResolution(*patch.Resolution) {
		return nil, apierror.Validation(fmt.Sprintf("invalid resolution %q", *patch.Resolution), nil)
	}

	if _, err := t.getAuthorizedRun(ctx, actor, runID); err != nil {
		return nil, err
	}

	ex, err := t.datasource.UpdateException(ctx, runID, key, patch, actor.ActorID)
	if err != nil {
		return nil, err
	}

	if err := cache.InvalidateRun(ctx, t.cache, runID); err != nil {
		logrus.WithError(err).Warn("failed to invalidate run cache")
	}
	return ex, nil
}

// GetExceptions retrieves a run's exception map keyed by stable key.
func (t *Tally) GetExceptions(ctx context.Context, actor model.ActorContext, runID string) (map[string]model.Exception, error) {
	if _, err := t.getAuthorizedRun(ctx, actor, runID); err != nil {
		return nil, err
	}
	return t.datasource.GetExceptions(ctx, runID)
}
