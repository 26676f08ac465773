package books

import "github.com/readaloud/client/internal/models"

// LowCreditThreshold is the balance at or below which users are nudged to buy more.
const LowCreditThreshold = 2

// InProgress keeps jobs whose status is neither COMPLETED nor FAILED.
func InProgress(jobs []models.Job) []models.Job {
	return filter(jobs, func(j models.Job) bool {
		return j.Status != models.StatusCompleted && j.Status != models.StatusFailed
	})
}

// Completed keeps jobs whose status is COMPLETED.
func Completed(jobs []models.Job) []models.Job {
	return filter(jobs, func(j models.Job) bool {
		return j.Status == models.StatusCompleted
	})
}

// Failed keeps jobs whose status is FAILED.
func Failed(jobs []models.Job) []models.Job {
	return filter(jobs, func(j models.Job) bool {
		return j.Status == models.StatusFailed
	})
}

// LowCredits reports a positive balance at or below LowCreditThreshold.
func LowCredits(credits int) bool {
	return credits > 0 && credits <= LowCreditThreshold
}

func filter(jobs []models.Job, keep func(models.Job) bool) []models.Job {
	out := make([]models.Job, 0, len(jobs))
	for _, j := range jobs {
		if keep(j) {
			out = append(out, j)
		}
	}
	return out
}
