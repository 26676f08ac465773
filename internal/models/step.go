package models

import "fmt"

// JobStep is the server-reported processing stage of a conversion job.
type JobStep string

const (
	StepUploadReceived  JobStep = "UPLOAD_RECEIVED"
	StepValidating      JobStep = "VALIDATING"
	StepDownloadingPDF  JobStep = "DOWNLOADING_PDF"
	StepExtractingText  JobStep = "EXTRACTING_TEXT"
	StepCleaningText    JobStep = "CLEANING_TEXT"
	StepGeneratingAudio JobStep = "GENERATING_AUDIO"
	StepMixingAudio     JobStep = "MIXING_AUDIO"
	StepUploadingAssets JobStep = "UPLOADING_ASSETS"
	StepFinalizing      JobStep = "FINALIZING"
	StepCompleted       JobStep = "COMPLETED"
	StepError           JobStep = "ERROR"
)

// AllSteps lists every step in pipeline order, with ERROR last.
func AllSteps() []JobStep {
	return []JobStep{
		StepUploadReceived,
		StepValidating,
		StepDownloadingPDF,
		StepExtractingText,
		StepCleaningText,
		StepGeneratingAudio,
		StepMixingAudio,
		StepUploadingAssets,
		StepFinalizing,
		StepCompleted,
		StepError,
	}
}

// stepInfo is the data attached to each step variant.
type stepInfo struct {
	order    int
	baseline int
	label    string
}

// info resolves the per-variant data. Unknown steps report ok=false; every
// declared constant must have a case here.
func (s JobStep) info() (stepInfo, bool) {
	switch s {
	case StepUploadReceived:
		return stepInfo{order: 0, baseline: 5, label: "Upload received"}, true
	case StepValidating:
		return stepInfo{order: 1, baseline: 10, label: "Validating file..."}, true
	case StepDownloadingPDF:
		return stepInfo{order: 2, baseline: 15, label: "Processing PDF..."}, true
	case StepExtractingText:
		return stepInfo{order: 3, baseline: 25, label: "Reading text..."}, true
	case StepCleaningText:
		return stepInfo{order: 4, baseline: 35, label: "Preparing text..."}, true
	case StepGeneratingAudio:
		return stepInfo{order: 5, baseline: 60, label: "Generating audio..."}, true
	case StepMixingAudio:
		return stepInfo{order: 6, baseline: 80, label: "Mixing audio..."}, true
	case StepUploadingAssets:
		return stepInfo{order: 7, baseline: 90, label: "Finalizing..."}, true
	case StepFinalizing:
		return stepInfo{order: 8, baseline: 95, label: "Almost done..."}, true
	case StepCompleted:
		return stepInfo{order: 9, baseline: 100, label: "Ready!"}, true
	case StepError:
		return stepInfo{order: 9, baseline: 0, label: "Failed"}, true
	}
	return stepInfo{}, false
}

// Known reports whether s is one of the declared steps.
func (s JobStep) Known() bool {
	_, ok := s.info()
	return ok
}

// Baseline returns the static progress estimate for the step.
func (s JobStep) Baseline() (int, bool) {
	info, ok := s.info()
	return info.baseline, ok
}

// Label returns the static display text for the step.
func (s JobStep) Label() (string, bool) {
	info, ok := s.info()
	return info.label, ok
}

// Order returns the position of the step in the pipeline. COMPLETED and ERROR
// share the terminal position.
func (s JobStep) Order() int {
	info, ok := s.info()
	if !ok {
		return -1
	}
	return info.order
}

// Terminal reports whether no further transitions follow the step.
func (s JobStep) Terminal() bool {
	return s == StepCompleted || s == StepError
}

// Next returns the step that follows s on the success path.
func (s JobStep) Next() (JobStep, bool) {
	if s.Terminal() || !s.Known() {
		return "", false
	}
	steps := AllSteps()
	return steps[s.Order()+1], true
}

// ParseJobStep validates a raw step value.
func ParseJobStep(raw string) (JobStep, error) {
	step := JobStep(raw)
	if !step.Known() {
		return "", fmt.Errorf("unknown job step %q", raw)
	}
	return step, nil
}

// JobStatus is the coarse lifecycle state of a conversion job.
type JobStatus string

const (
	StatusPending    JobStatus = "PENDING"
	StatusQueued     JobStatus = "QUEUED"
	StatusProcessing JobStatus = "PROCESSING"
	StatusCompleted  JobStatus = "COMPLETED"
	StatusFailed     JobStatus = "FAILED"
)

// Known reports whether s is one of the declared statuses.
func (s JobStatus) Known() bool {
	switch s {
	case StatusPending, StatusQueued, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether the job has finished, successfully or not.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// StatusForStep returns the status a job carries while at step.
func StatusForStep(step JobStep) JobStatus {
	switch step {
	case StepUploadReceived:
		return StatusPending
	case StepCompleted:
		return StatusCompleted
	case StepError:
		return StatusFailed
	default:
		return StatusProcessing
	}
}
