package model

import "time"

// CalculateResult is the response of a feature-importance calculation.
type CalculateResult struct {
	Categories []FeatureCategory `json:"categories"`
}

// AudienceRequest is the finalized payload submitted to create a lookalike job.
type AudienceRequest struct {
	SourceID         string    `json:"source_id"`
	SizeMethodID     string    `json:"size_method_id"`
	AudienceName     string    `json:"audience_name"`
	SelectedFeatures []Feature `json:"selected_features"`
}

// JobDescriptor identifies a created lookalike job.
type JobDescriptor struct {
	JobID           string         `json:"job_id"`
	InitialProgress ProgressSample `json:"initial_progress"`
}

// Audience is a submitted lookalike job with its best-known progress.
type Audience struct {
	JobID        string         `json:"job_id"`
	Name         string         `json:"name"`
	SourceID     string         `json:"source_id"`
	SizeMethodID string         `json:"size_method_id"`
	Features     []Feature      `json:"features"`
	Progress     ProgressSample `json:"progress"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}
