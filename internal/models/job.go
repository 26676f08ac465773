package models

import (
	"errors"
	"time"
)

// Job mirrors one document-to-audio conversion owned by the backend.
type Job struct {
	ID                string     `json:"id"`
	UserID            string     `json:"userId"`
	OriginalFilename  string     `json:"originalFilename"`
	SourcePDFURL      string     `json:"sourcePdfUrl"`
	Status            JobStatus  `json:"status"`
	CurrentStep       JobStep    `json:"currentStep"`
	TotalCharacters   int        `json:"totalCharacters"`
	EstimatedDuration *int       `json:"estimatedDuration"`
	ErrorMessage      *string    `json:"errorMessage"`
	BackgroundAudio   bool       `json:"backgroundAudio"`
	AudioURL          string     `json:"audioUrl,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
	Events            []JobEvent `json:"events,omitempty"`
}

// JobEvent is an append-only record of one step transition.
type JobEvent struct {
	ID        string    `json:"id"`
	JobID     string    `json:"jobId"`
	Step      JobStep   `json:"step"`
	Status    JobStatus `json:"status"`
	Message   string    `json:"message"`
	Progress  int       `json:"progress"`
	CreatedAt time.Time `json:"createdAt"`
}

var (
	// ErrCompletedMismatch means status and step disagree about completion.
	ErrCompletedMismatch = errors.New("job status COMPLETED must pair with step COMPLETED")
	// ErrFailedMismatch means status and step disagree about failure.
	ErrFailedMismatch = errors.New("job status FAILED must pair with step ERROR")
	// ErrErrorMessageMismatch means errorMessage is set on a job that did not fail, or missing on one that did.
	ErrErrorMessageMismatch = errors.New("job errorMessage must be set iff status is FAILED")
)

// Validate checks the cross-field invariants between status, step and error message.
func (j Job) Validate() error {
	if (j.Status == StatusCompleted) != (j.CurrentStep == StepCompleted) {
		return ErrCompletedMismatch
	}
	if (j.Status == StatusFailed) != (j.CurrentStep == StepError) {
		return ErrFailedMismatch
	}
	if (j.Status == StatusFailed) != (j.ErrorMessage != nil) {
		return ErrErrorMessageMismatch
	}
	return nil
}

// InProgress reports whether the job has not reached a terminal status.
func (j Job) InProgress() bool {
	return !j.Status.Terminal()
}

// SubmitBookRequest is the body of POST books/submit.
type SubmitBookRequest struct {
	PDFURL           string `json:"pdfUrl"`
	OriginalFilename string `json:"originalFilename"`
	BackgroundAudio  bool   `json:"backgroundAudio"`
}

// SubmitBookResponse is returned by books/submit.
type SubmitBookResponse struct {
	Message string `json:"message"`
	BookID  string `json:"bookId,omitempty"`
}

// BooksResponse is returned by GET books.
type BooksResponse struct {
	Jobs []Job `json:"jobs"`
}

// BookProgress is returned by GET books/{id}/progress.
type BookProgress struct {
	Status      JobStatus  `json:"status"`
	CurrentStep JobStep    `json:"currentStep"`
	Events      []JobEvent `json:"events"`
}

// BookDetails is returned by GET books/{id}.
type BookDetails struct {
	Job Job `json:"job"`
}

// BookAudio is returned by GET books/{id}/audio.
type BookAudio struct {
	URL             string  `json:"url"`
	BackgroundTrack *string `json:"backgroundTrack,omitempty"`
}
