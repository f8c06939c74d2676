// Copyright 2025 James Ross
package api

import "github.com/seo-batch/job-engine/internal/jobstore"

// createJobRequest is the POST /v1/tenants/{tenant}/jobs body.
type createJobRequest struct {
	ID               string             `json:"id"`
	JobType          string             `json:"jobType"`
	Language         string             `json:"language"`
	MetaTitle        bool               `json:"metaTitle"`
	MetaDescription  bool               `json:"metaDescription"`
	GenerationHints  map[string]any     `json:"generationHints"`
	ApplyOnlyChanged bool               `json:"applyOnlyChanged"`
	Items            []createItemFields `json:"items"`
}

type createItemFields struct {
	ID             string  `json:"id"`
	TargetType     string  `json:"targetType"`
	TargetID       string  `json:"targetId"`
	ParentID       *string `json:"parentId,omitempty"`
	Title          string  `json:"title,omitempty"`
	MediaID        *string `json:"mediaId,omitempty"`
	ImageURL       *string `json:"imageUrl,omitempty"`
	SeoDescription string  `json:"seoDescription,omitempty"`
}

type retryItemsRequest struct {
	ItemIDs []string `json:"itemIds"`
}

type selectPublishRequest struct {
	ItemIDs []string `json:"itemIds"`
}

type jobDTO struct {
	ID                 string         `json:"id"`
	Tenant             string         `json:"tenant"`
	JobType            string         `json:"jobType"`
	Phase              string         `json:"phase"`
	Status             string         `json:"status"`
	Total              int            `json:"total"`
	OKCount            int            `json:"okCount"`
	FailedCount        int            `json:"failedCount"`
	PublishOKCount     int            `json:"publishOkCount"`
	PublishFailedCount int            `json:"publishFailedCount"`
	LastError          string         `json:"lastError,omitempty"`
	GenerationHints    map[string]any `json:"generationHints,omitempty"`
}

func jobToDTO(j jobstore.Job) jobDTO {
	return jobDTO{
		ID: j.ID, Tenant: j.Tenant, JobType: string(j.JobType),
		Phase: string(j.Phase), Status: string(j.Status),
		Total: j.Total, OKCount: j.OKCount, FailedCount: j.FailedCount,
		PublishOKCount: j.PublishOKCount, PublishFailedCount: j.PublishFailedCount,
		LastError: j.LastError, GenerationHints: j.GenerationHints,
	}
}

type itemDTO struct {
	ID            string `json:"id"`
	TargetType    string `json:"targetType"`
	TargetID      string `json:"targetId"`
	Status        string `json:"status"`
	Error         string `json:"error,omitempty"`
	SeoTitle      string `json:"seoTitle,omitempty"`
	SeoDescription string `json:"seoDescription,omitempty"`
	PublishStatus string `json:"publishStatus"`
	PublishError  string `json:"publishError,omitempty"`
}

func itemToDTO(it jobstore.Item) itemDTO {
	return itemDTO{
		ID: it.ID, TargetType: string(it.TargetType), TargetID: it.TargetID,
		Status: string(it.Status), Error: it.Error,
		SeoTitle: it.SeoTitle, SeoDescription: it.SeoDescription,
		PublishStatus: string(it.PublishStatus), PublishError: it.PublishError,
	}
}

type jobDetailDTO struct {
	Job   jobDTO    `json:"job"`
	Items []itemDTO `json:"items"`
}

type jobListDTO struct {
	Jobs       []jobDTO `json:"jobs"`
	NextCursor string   `json:"nextCursor,omitempty"`
}
