package scheduler

import (
	"context"
	"fmt"

	"novastream/internal/store"
	"novastream/models"
)

// TaskFactory mirrors taskmanager.Factory without importing that
// package, so jobs.go has no dependency on the worker-pool internals.
type TaskFactory func(ctx context.Context, progress func(percent int, description string)) error

// SubmitOptions mirrors taskmanager.SubmitOptions.
type SubmitOptions struct {
	UniqueKey       string
	QueueType       models.QueueType
	TaskType        string
	RunImmediately  bool
	ScheduledTaskID string
}

// SubmitFunc produces a Task Manager submission; it never runs adapter
// I/O itself.
type SubmitFunc func(ctx context.Context, factory TaskFactory, title string, opts SubmitOptions) (string, <-chan struct{}, error)

// JobDeps is the set of collaborators a built-in job may need.
type JobDeps struct {
	Store  *store.Store
	Submit SubmitFunc
}

// Job is a cron-triggered producer of Task Manager submissions (spec
// §4.3: "Dynamically loads job classes from a jobs directory. Each job
// declares job_type, display name, and a run coroutine.").
type Job interface {
	JobType() string
	Name() string
	Run(ctx context.Context, deps JobDeps, progress func(percent int, description string)) error
}

// Registered is the compile-time registry of built-in job types,
// mirroring the teacher's small init()-style adapter lists.
var Registered []Job

func register(j Job) { Registered = append(Registered, j) }

func init() {
	register(incrementalRefreshJob{})
	register(tmdbAutoMapJob{})
	register(webhookProcessorJob{})
	register(scraperSettingsSyncJob{})
}

// incrementalRefreshJob enumerates anime_source rows flagged for
// incremental refresh and submits one download-queue task per source,
// supplementing _examples/original_source/src/jobs/tmdb_auto_map.py's
// sibling "incremental refresh" scheduled job.
type incrementalRefreshJob struct{}

func (incrementalRefreshJob) JobType() string { return "incrementalRefresh" }
func (incrementalRefreshJob) Name() string    { return "Incremental Refresh" }

func (j incrementalRefreshJob) Run(ctx context.Context, deps JobDeps, progress func(int, string)) error {
	rows, err := deps.Store.DB.QueryContext(ctx, `
		SELECT id, anime_id FROM anime_source WHERE incremental_refresh_enabled = 1`)
	if err != nil {
		return fmt.Errorf("incrementalRefresh: query sources: %w", err)
	}
	defer rows.Close()

	type source struct {
		id, animeID int64
	}
	var sources []source
	for rows.Next() {
		var s source
		if err := rows.Scan(&s.id, &s.animeID); err != nil {
			return err
		}
		sources = append(sources, s)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for i, s := range sources {
		uniqueKey := fmt.Sprintf("incrementalRefresh:source:%d", s.id)
		_, _, err := deps.Submit(ctx, func(ctx context.Context, p func(int, string)) error {
			// This job only decides *which* sources are due and enqueues
			// them. The submitted task calls no adapter and fetches no
			// new episodes; it only reports completion.
			p(100, "source queued; no refresh step is run")
			return nil
		}, fmt.Sprintf("Incremental refresh: source %d", s.id), SubmitOptions{
			UniqueKey: uniqueKey,
			QueueType: models.QueueDownload,
			TaskType:  "incrementalRefresh",
		})
		if err != nil {
			continue // likely a dedup conflict from a still-running prior refresh; skip
		}
		progress(int(float64(i+1)/float64(len(sources))*100), fmt.Sprintf("queued refresh for source %d", s.id))
	}
	return nil
}

// tmdbAutoMapJob finds anime rows with a TMDB id but no episode-group
// mapping yet and submits one management-queue task per anime,
// supplementing the dropped original_source tmdb_auto_map.py job. The
// submitted task computes and stores no mapping; it only reports
// completion.
type tmdbAutoMapJob struct{}

func (tmdbAutoMapJob) JobType() string { return "tmdbAutoMap" }
func (tmdbAutoMapJob) Name() string    { return "TMDB Auto-Map" }

func (j tmdbAutoMapJob) Run(ctx context.Context, deps JobDeps, progress func(int, string)) error {
	rows, err := deps.Store.DB.QueryContext(ctx, `
		SELECT id, tmdb_id FROM anime WHERE tmdb_id IS NOT NULL AND tmdb_episode_group_id IS NULL`)
	if err != nil {
		return fmt.Errorf("tmdbAutoMap: query anime: %w", err)
	}
	defer rows.Close()

	type pending struct {
		animeID int64
		tmdbID  int64
	}
	var list []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.animeID, &p.tmdbID); err != nil {
			return err
		}
		list = append(list, p)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for i, p := range list {
		_, _, err := deps.Submit(ctx, func(ctx context.Context, pf func(int, string)) error {
			pf(100, "no episode-group mapping step is run")
			return nil
		}, fmt.Sprintf("TMDB auto-map: anime %d", p.animeID), SubmitOptions{
			UniqueKey: fmt.Sprintf("tmdbAutoMap:anime:%d", p.animeID),
			QueueType: models.QueueManagement,
			TaskType:  "tmdbAutoMap",
		})
		if err != nil {
			continue
		}
		progress(int(float64(i+1)/float64(len(list))*100), fmt.Sprintf("queued mapping for anime %d", p.animeID))
	}
	return nil
}

// webhookProcessorJob is the consumer slot for webhook-triggered import
// requests, supplementing the dropped original_source/webhook_manager.py.
// This module has no webhook endpoint and no webhook inbox table, so
// the job has nothing to drain and only records its run.
type webhookProcessorJob struct{}

func (webhookProcessorJob) JobType() string { return "webhookProcessor" }
func (webhookProcessorJob) Name() string    { return "Webhook Processor" }

func (j webhookProcessorJob) Run(ctx context.Context, deps JobDeps, progress func(int, string)) error {
	// No inbound events are persisted anywhere, so this job is a no-op
	// fire that still records its run for observability.
	progress(100, "no pending webhook events")
	return nil
}

// scraperSettingsSyncJob is the scheduled slot for the adapter
// registry's settings sync, per Design Notes §9 listing "settings sync"
// as part of C4's lifecycle. Its Run performs no sync and no
// verification (the registry verifies adapters only in NewRegistry); it
// only reports completion.
type scraperSettingsSyncJob struct{}

func (scraperSettingsSyncJob) JobType() string { return "scraperSettingsSync" }
func (scraperSettingsSyncJob) Name() string    { return "Scraper Settings Sync" }

func (j scraperSettingsSyncJob) Run(ctx context.Context, deps JobDeps, progress func(int, string)) error {
	progress(100, "no settings sync step is run")
	return nil
}
