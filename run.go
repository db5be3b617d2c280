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
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/tallyops/tally/cache"
	"github.com/tallyops/tally/internal/apierror"
	redlock "github.com/tallyops/tally/internal/lock"
	"github.com/tallyops/tally/internal/notification"
	"github.com/tallyops/tally/model"
)

const (
	runLockDuration = 2 * time.Minute
	runLockWait     = 30 * time.Second
)

// CreateRun instantiates a draft run from a template for a period. The
// template's rules and source schemas are denormalized onto the run so
// later edits or deletion of the template never change what this run
// reports.
func (t *Tally) CreateRun(ctx context.Context, actor model.ActorContext, configID, period string) (*model.Run, error) {
	ctx, span := otel.Tracer("Run").Start(ctx, "Creating run")
	defer span.End()

	cfg, err := t.datasource.GetConfig(ctx, configID, actor.OrganizationID)
	if err != nil {
		return nil, err
	}

	run := &model.Run{
		RunID:          model.GenerateUUIDWithSuffix("run"),
		ConfigID:       cfg.ConfigID,
		OrganizationID: cfg.OrganizationID,
		Period:         period,
		Status:         model.RunStatusDraft,
		Rules:          cfg.Rules,
		SourceAConfig:  cfg.SourceA,
		SourceBConfig:  cfg.SourceB,
		CreatedBy:      actor.ActorID,
		CreatedAt:      time.Now(),
	}
	if err := t.datasource.RecordRun(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// UploadSource parses and attaches one side's file to a run, then
// re-matches if both sides are present. Uploads to the same run are
// serialized behind a per-run lock so two racing uploads cannot
// interleave partial row lists; the later writer wins whole.
//
// A re-upload on an already matched run discards the prior match
// outcome. When the preserve-resolutions policy is enabled, reviewer
// annotations are carried onto re-computed exceptions whose stable key
// still resolves to the same row.
func (t *Tally) UploadSource(ctx context.Context, actor model.ActorContext, runID string, side model.Side, filename string, data []byte) (*model.Run, error) {
	ctx, span := otel.Tracer("Run").Start(ctx, "Uploading run source")
	defer span.End()

	if !side.Valid() {
		return nil, apierror.Validation(fmt.Sprintf("invalid side %q", side), nil)
	}
	if int64(len(data)) > t.upload.MaxFileBytes {
		return nil, apierror.Validation(
			fmt.Sprintf("file exceeds the %d byte upload limit", t.upload.MaxFileBytes), nil)
	}

	run, err := t.getAuthorizedRun(ctx, actor, runID)
	if err != nil {
		return nil, err
	}
	if run.Completed() {
		return nil, apierror.ImmutableRun(runID)
	}

	locker := redlock.NewLocker(t.redis, redlock.RunLockKey(runID), model.GenerateUUIDWithSuffix("loc"))
	if err := locker.WaitLock(ctx, runLockDuration, runLockWait); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrConflict, "Run is busy, try again", err)
	}
	defer func() {
		if err := locker.Unlock(context.Background()); err != nil {
			logrus.WithError(err).Warn("failed to release run lock")
		}
	}()

	sourceCfg := run.SourceAConfig
	if side == model.SideB {
		sourceCfg = run.SourceBConfig
	}
	parsed, err := t.parser.Parse(ctx, data, filename, &sourceCfg, ParseFull)
	if err != nil {
		return nil, err
	}
	for _, w := range parsed.Warnings {
		logrus.WithField("run_id", runID).Warn(w)
	}

	src := &model.SourceFile{
		FileName:   filename,
		StorageKey: t.persistRawFile(ctx, runID, side, filename, data),
		RowCount:   parsed.RowCount,
		Rows:       parsed.Rows,
		UploadedAt: time.Now(),
	}

	// Replacing a source clears the previous computation, so reviewer
	// work has to be captured first if the policy keeps it.
	var prior map[string]model.Exception
	if t.policy.PreserveResolutionsOnReupload {
		if prior, err = t.datasource.GetExceptions(ctx, runID); err != nil {
			return nil, err
		}
	}

	if err := t.datasource.ReplaceSource(ctx, runID, side, src, model.RunStatusPartial); err != nil {
		return nil, err
	}

	if err := t.rematch(ctx, runID, prior); err != nil {
		notification.NotifyError(err)
		return nil, err
	}

	if err := cache.InvalidateRun(ctx, t.cache, runID); err != nil {
		logrus.WithError(err).Warn("failed to invalidate run cache")
	}
	return t.datasource.GetRunSummary(ctx, runID)
}

// persistRawFile uploads the original bytes for audit. Failures are
// reported but never block the run; only the parsed rows matter to the
// engine.
func (t *Tally) persistRawFile(ctx context.Context, runID string, side model.Side, filename string, data []byte) string {
	if t.blob == nil {
		return ""
	}
	key := fmt.Sprintf("runs/%s/%s/%s", runID, side, filename)
	url, err := t.blob.Upload(ctx, key, data, "application/octet-stream")
	if err != nil {
		notification.NotifyError(err)
		return ""
	}
	return url
}

// rematch recomputes matches, exceptions and totals when both sides
// are present. The match write is atomic; until it lands the run sits
// at partial with no matches or exceptions, never with a stale set
// referencing replaced rows.
func (t *Tally) rematch(ctx context.Context, runID string, prior map[string]model.Exception) error {
	run, err := t.datasource.GetRunSummary(ctx, runID)
	if err != nil {
		return err
	}
	if !run.BothSidesPresent() {
		return nil
	}

	rowsA, err := t.datasource.GetSourceRows(ctx, runID, model.SideA)
	if err != nil {
		return err
	}
	rowsB, err := t.datasource.GetSourceRows(ctx, runID, model.SideB)
	if err != nil {
		return err
	}

	result := MatchSources(ctx, rowsA, rowsB, run.Rules)
	carryResolutions(prior, result)

	status := model.RunStatusMatched
	for _, ex := range result.Exceptions {
		if ex.Resolution == model.ResolutionPending {
			status = model.RunStatusReview
			break
		}
	}

	return t.datasource.SaveMatchResult(ctx, runID, status, result.Matches, result.Exceptions, result.Totals)
}

// carryResolutions copies reviewer fields from the previous exception
// set onto re-computed entries with the same stable key. Keys encode
// side plus identity (or position), so an annotation only survives
// when it still points at the same row.
func carryResolutions(previous map[string]model.Exception, result *MatchResult) {
	if len(previous) == 0 {
		return
	}
	for i := range result.Exceptions {
		prior, ok := previous[result.Exceptions[i].Key]
		if !ok || prior.Resolution == model.ResolutionPending {
			continue
		}
		result.Exceptions[i].Category = prior.Category
		result.Exceptions[i].Resolution = prior.Resolution
		result.Exceptions[i].Notes = prior.Notes
		result.Exceptions[i].ResolvedBy = prior.ResolvedBy
	}
}

// CompleteRun signs off a run. The per-run lock spans the pending
// check and the state flip, and the datasource re-checks both under a
// row lock, so a concurrent exception update cannot slip a pending
// entry past the gate. Completion is one-way; every mutation
// afterwards fails with an immutable-run error.
func (t *Tally) CompleteRun(ctx context.Context, actor model.ActorContext, runID string) (*model.Run, error) {
	ctx, span := otel.Tracer("Run").Start(ctx, "Completing run")
	defer span.End()

	if _, err := t.getAuthorizedRun(ctx, actor, runID); err != nil {
		return nil, err
	}

	locker := redlock.NewLocker(t.redis, redlock.RunLockKey(runID), model.GenerateUUIDWithSuffix("loc"))
	if err := locker.WaitLock(ctx, runLockDuration, runLockWait); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrConflict, "Run is busy, try again", err)
	}
	defer func() {
		if err := locker.Unlock(context.Background()); err != nil {
			logrus.WithError(err).Warn("failed to release run lock")
		}
	}()

	if _, err := t.datasource.CompleteRun(ctx, runID, actor.ActorID); err != nil {
		return nil, err
	}

	if err := cache.InvalidateRun(ctx, t.cache, runID); err != nil {
		logrus.WithError(err).Warn("failed to invalidate run cache")
	}

	run, err := t.datasource.GetRunSummary(ctx, runID)
	if err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{
		"run_id":    runID,
		"signed_by": actor.ActorID,
	}).Info("run completed")
	return run, nil
}

// GetRun retrieves a run with its rows, matches and exceptions.
func (t *Tally) GetRun(ctx context.Context, actor model.ActorContext, runID string) (*model.Run, error) {
	if _, err := t.getAuthorizedRun(ctx, actor, runID); err != nil {
		return nil, err
	}
	return t.datasource.GetRun(ctx, runID)
}

// GetRunSummary retrieves the hot summary fields of a run, served from
// cache when possible.
func (t *Tally) GetRunSummary(ctx context.Context, actor model.ActorContext, runID string) (*model.Run, error) {
	if cached := cache.GetRunSummary(ctx, t.cache, runID); cached != nil {
		if cached.OrganizationID != actor.OrganizationID {
			return nil, apierror.NotFound("Run not found")
		}
		return cached, nil
	}

	run, err := t.getAuthorizedRun(ctx, actor, runID)
	if err != nil {
		return nil, err
	}
	if err := cache.SetRunSummary(ctx, t.cache, run); err != nil {
		logrus.WithError(err).Warn("failed to cache run summary")
	}
	return run, nil
}

// ListRuns retrieves run summaries for the actor's organization,
// optionally narrowed to one template.
func (t *Tally) ListRuns(ctx context.Context, actor model.ActorContext, configID string) ([]*model.Run, error) {
	return t.datasource.ListRuns(ctx, actor.OrganizationID, configID)
}

// PreviewFile parses the first rows of a file without attaching it to
// a run, inferring column types when no template is supplied. Used by
// column mapping UIs before a config exists.
func (t *Tally) PreviewFile(ctx context.Context, data []byte, filename string) (*ParseResult, error) {
	if int64(len(data)) > t.upload.MaxFileBytes {
		return nil, apierror.Validation(
			fmt.Sprintf("file exceeds the %d byte upload limit", t.upload.MaxFileBytes), nil)
	}
	return t.parser.Parse(ctx, data, filename, nil, ParsePreview)
}

// getAuthorizedRun loads a run summary and scopes it to the actor's
// organization. Cross-organization access reads as not found.
func (t *Tally) getAuthorizedRun(ctx context.Context, actor model.ActorContext, runID string) (*model.Run, error) {
	run, err := t.datasource.GetRunSummary(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.OrganizationID != actor.OrganizationID {
		return nil, apierror.NotFound("Run not found")
	}
	return run, nil
}
