package domain

// JobType enumerates supported generation job categories.
type JobType string

const (
	JobTypeTxt2Img  JobType = "txt2img"
	JobTypeImg2Img  JobType = "img2img"
	JobTypeInpaint  JobType = "inpaint"
	JobTypeOutpaint JobType = "outpaint"
	JobTypeUpscale  JobType = "upscale"
	JobTypeWorkflow JobType = "workflow"
	JobTypeTxt2Vid  JobType = "txt2vid"
	JobTypeImg2Vid  JobType = "img2vid"
)

// JobTypes lists every supported job type.
var JobTypes = []JobType{
	JobTypeTxt2Img,
	JobTypeImg2Img,
	JobTypeInpaint,
	JobTypeOutpaint,
	JobTypeUpscale,
	JobTypeWorkflow,
	JobTypeTxt2Vid,
	JobTypeImg2Vid,
}

// Valid reports whether t names a supported job type.
func (t JobType) Valid() bool {
	for _, known := range JobTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Video reports whether the type produces video output.
func (t JobType) Video() bool {
	return t == JobTypeTxt2Vid || t == JobTypeImg2Vid
}

// RequiresInputImage reports whether the type needs a previously uploaded
// source image.
func (t JobType) RequiresInputImage() bool {
	switch t {
	case JobTypeImg2Img, JobTypeInpaint, JobTypeOutpaint, JobTypeUpscale, JobTypeImg2Vid:
		return true
	}
	return false
}

// JobStatus enumerates job lifecycle states. Transitions are monotonic
// along pending → queued → processing → {completed, failed, cancelled}.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Cancellable reports whether a job in this status may still be cancelled.
// A job already dispatched to a worker has no cancellation hook.
func (s JobStatus) Cancellable() bool {
	return s == JobStatusPending || s == JobStatusQueued
}

// baseCosts holds the per-type base credit cost. Total cost is
// base × batch_size × batch_count.
var baseCosts = map[JobType]int{
	JobTypeTxt2Img:  1,
	JobTypeImg2Img:  1,
	JobTypeUpscale:  2,
	JobTypeInpaint:  2,
	JobTypeOutpaint: 2,
	JobTypeWorkflow: 2,
	JobTypeTxt2Vid:  10,
	JobTypeImg2Vid:  10,
}

// BaseCost returns the per-type base credit cost.
func BaseCost(t JobType) int {
	return baseCosts[t]
}
