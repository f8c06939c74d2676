// Copyright 2025 James Ross
package jobstore

import (
	"encoding/json"
)

type scanner interface {
	Scan(dest ...any) error
}

const jobColumns = `
	id, tenant, job_type, phase, status,
	total, ok_count, failed_count, publish_ok_count, publish_failed_count,
	total_attempts, total_retry_wait_ms,
	created_at, started_at, finished_at, publish_started_at, publish_finished_at, last_heartbeat_at,
	lock_owner, lock_expires_at,
	language, meta_title, meta_description, generation_hints, apply_only_changed,
	usage_reserved, usage_count, last_error
`

const itemColumns = `
	id, job_id, target_type, target_id, parent_id, title, media_id, image_url,
	status, started_at, finished_at, error, gen_attempts, gen_retry_wait_ms,
	seo_title, seo_description,
	publish_status, published_at, publish_error, publish_attempts, publish_retry_wait_ms
`

func scanJob(row scanner) (Job, error) {
	return scanJobRow(row)
}

func scanJobRow(row scanner) (Job, error) {
	var j Job
	var hints []byte
	if err := row.Scan(
		&j.ID, &j.Tenant, &j.JobType, &j.Phase, &j.Status,
		&j.Total, &j.OKCount, &j.FailedCount, &j.PublishOKCount, &j.PublishFailedCount,
		&j.TotalAttempts, &j.TotalRetryWaitMs,
		&j.CreatedAt, &j.StartedAt, &j.FinishedAt, &j.PublishStartedAt, &j.PublishFinishedAt, &j.LastHeartbeatAt,
		&j.LockOwner, &j.LockExpiresAt,
		&j.Language, &j.MetaTitle, &j.MetaDescription, &hints, &j.ApplyOnlyChanged,
		&j.UsageReserved, &j.UsageCount, &j.LastError,
	); err != nil {
		return Job{}, err
	}
	if len(hints) > 0 {
		if err := json.Unmarshal(hints, &j.GenerationHints); err != nil {
			return Job{}, err
		}
	}
	return j, nil
}

func scanItem(row scanner) (Item, error) {
	var it Item
	if err := row.Scan(
		&it.ID, &it.JobID, &it.TargetType, &it.TargetID, &it.ParentID, &it.Title, &it.MediaID, &it.ImageURL,
		&it.Status, &it.StartedAt, &it.FinishedAt, &it.Error, &it.GenAttempts, &it.GenRetryWaitMs,
		&it.SeoTitle, &it.SeoDescription,
		&it.PublishStatus, &it.PublishedAt, &it.PublishError, &it.PublishAttempts, &it.PublishRetryWaitMs,
	); err != nil {
		return Item{}, err
	}
	return it, nil
}
