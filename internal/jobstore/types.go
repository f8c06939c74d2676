// Copyright 2025 James Ross
package jobstore

import "time"

type JobType string

const (
	JobTypeProductSeo JobType = "ProductSeo"
	JobTypeImageAlt    JobType = "ImageAlt"
	JobTypeBlogSeo     JobType = "BlogSeo"
)

type Phase string

const (
	PhaseGenerating Phase = "Generating"
	PhaseGenerated  Phase = "Generated"
	PhasePublishing Phase = "Publishing"
	PhasePublished  Phase = "Published"
)

type Status string

const (
	StatusQueued    Status = "Queued"
	StatusRunning   Status = "Running"
	StatusSuccess   Status = "Success"
	StatusFailed    Status = "Failed"
	StatusCancelled Status = "Cancelled"
)

type TargetType string

const (
	TargetProduct TargetType = "Product"
	TargetImage   TargetType = "Image"
	TargetArticle TargetType = "Article"
)

type ItemStatus string

const (
	ItemQueued  ItemStatus = "Queued"
	ItemRunning ItemStatus = "Running"
	ItemSuccess ItemStatus = "Success"
	ItemFailed  ItemStatus = "Failed"
)

type PublishStatus string

const (
	PublishQueued  PublishStatus = "Queued"
	PublishRunning PublishStatus = "Running"
	PublishSuccess PublishStatus = "Success"
	PublishFailed  PublishStatus = "Failed"
	PublishSkipped PublishStatus = "Skipped"
)

// Job mirrors the conceptual Job entity: one batch of work for one tenant.
type Job struct {
	ID       string
	Tenant   string
	JobType  JobType
	Phase    Phase
	Status   Status

	Total              int
	OKCount            int
	FailedCount        int
	PublishOKCount     int
	PublishFailedCount int
	TotalAttempts      int
	TotalRetryWaitMs   int64

	CreatedAt        time.Time
	StartedAt        *time.Time
	FinishedAt       *time.Time
	PublishStartedAt *time.Time
	PublishFinishedAt *time.Time
	LastHeartbeatAt  *time.Time

	LockOwner     *string
	LockExpiresAt *time.Time

	Language         string
	MetaTitle        bool
	MetaDescription  bool
	GenerationHints  map[string]any
	ApplyOnlyChanged bool

	UsageReserved bool
	UsageCount    int

	LastError string
}

// Item is one unit of work inside a job.
type Item struct {
	ID    string
	JobID string

	TargetType TargetType
	TargetID   string
	ParentID   *string
	Title      string
	MediaID    *string
	ImageURL   *string

	Status         ItemStatus
	StartedAt      *time.Time
	FinishedAt     *time.Time
	Error          string
	GenAttempts    int
	GenRetryWaitMs int64

	SeoTitle       string
	SeoDescription string

	PublishStatus      PublishStatus
	PublishedAt        *time.Time
	PublishError       string
	PublishAttempts    int
	PublishRetryWaitMs int64
}

// JobSpec is the input to CreateJob: the job row plus its items, all
// supplied by the producer before any lease is acquired.
type JobSpec struct {
	ID               string
	Tenant           string
	JobType          JobType
	Language         string
	MetaTitle        bool
	MetaDescription  bool
	GenerationHints  map[string]any
	ApplyOnlyChanged bool
}

// ItemSpec is one item as supplied at job creation time.
type ItemSpec struct {
	ID         string
	TargetType TargetType
	TargetID   string
	ParentID   *string
	Title      string
	MediaID    *string
	ImageURL   *string
	// SeoDescription seeds the current-live baseline for images (the
	// existing alt text), otherwise left empty.
	SeoDescription string
}

// CounterDeltas is applied atomically by IncrementCounters.
type CounterDeltas struct {
	OKCount            int
	FailedCount        int
	PublishOKCount     int
	PublishFailedCount int
	TotalAttempts      int
	TotalRetryWaitMs   int64
}

// ListFilter narrows ListJobs results.
type ListFilter struct {
	Tenant  string
	Status  Status
	Phase   Phase
	JobType JobType
	// IDContains is a free-text substring match against job id.
	IDContains string
	Limit      int
	Cursor     string
}

// ListPage is one page of ListJobs results with an opaque cursor for the
// next page, empty when there are no more rows.
type ListPage struct {
	Jobs       []Job
	NextCursor string
}
