package model

// ProgressChannel identifies which channel delivered a progress sample.
type ProgressChannel string

const (
	ChannelInitial ProgressChannel = "initial"
	ChannelPush    ProgressChannel = "push"
	ChannelPoll    ProgressChannel = "poll"
)

// ProgressSample is a (processed, total) observation for one job.
// Total is meaningful only once nonzero.
type ProgressSample struct {
	Processed int64 `json:"processed"`
	Total     int64 `json:"total"`
}

// Terminal reports whether the sample describes a finished job.
func (p ProgressSample) Terminal() bool {
	return p.Total > 0 && p.Processed >= p.Total
}

// Indeterminate reports whether the job total is still unknown.
func (p ProgressSample) Indeterminate() bool {
	return p.Total == 0
}

// Max combines two samples field by field, keeping the larger value of each.
func (p ProgressSample) Max(o ProgressSample) ProgressSample {
	return ProgressSample{
		Processed: max(p.Processed, o.Processed),
		Total:     max(p.Total, o.Total),
	}
}

// Percent returns completion in [0,100]. An indeterminate sample reports 0.
func (p ProgressSample) Percent() float64 {
	if p.Total <= 0 {
		return 0
	}
	pct := float64(p.Processed) / float64(p.Total) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}

// JobProgress is a progress sample attributed to a job and a channel.
type JobProgress struct {
	JobID  string          `json:"job_id"`
	Source ProgressChannel `json:"source"`
	ProgressSample
}
