package engine

import (
	"fmt"
	"time"

	"thrivesend/internal/models"
)

// Reduce folds the current subtask states into the derived Progress and
// Results. It is a pure function of the subtask set: replaying the same
// states in any delivery order yields identical output, which is what
// lets the per-operation run loop recompute on every event without
// tracking deltas.
func Reduce(opType models.OperationType, subTasks []models.SubTask) (models.Progress, models.Results) {
	progress := models.Progress{ItemsTotal: len(subTasks)}
	results := models.Results{Errors: []string{}, PerTarget: make([]models.TargetResult, 0, len(subTasks))}

	var (
		running       int
		totalDuration time.Duration
		durationCount int
	)

	for _, st := range subTasks {
		tr := models.TargetResult{
			TargetID:  st.TargetID(),
			ClientID:  st.ClientID,
			Status:    st.Status,
			Processed: st.Processed,
		}

		switch st.Status {
		case models.SubTaskRunning:
			running++
		case models.SubTaskSucceeded:
			progress.ItemsProcessed++
			results.Successful++
		case models.SubTaskFailed:
			progress.ItemsProcessed++
			results.Failed++
			tr.Error = st.LastError
			results.Errors = append(results.Errors, fmt.Sprintf("%s: %s", st.TargetID(), st.LastError))
		case models.SubTaskSkipped, models.SubTaskCancelled:
			progress.ItemsProcessed++
		}

		if d := st.Duration(); d > 0 && st.Status.Terminal() {
			totalDuration += d
			durationCount++
		}

		results.PerTarget = append(results.PerTarget, tr)
	}

	if progress.ItemsTotal > 0 {
		progress.Percentage = round1(float64(progress.ItemsProcessed) / float64(progress.ItemsTotal) * 100)
	}

	remaining := progress.ItemsTotal - progress.ItemsProcessed
	progress.EstimatedTimeRemaining = estimateRemaining(totalDuration, durationCount, remaining)
	progress.CurrentStep = currentStep(opType, progress.ItemsProcessed, progress.ItemsTotal)

	return progress, results
}

func estimateRemaining(totalDuration time.Duration, samples, remaining int) string {
	if remaining <= 0 {
		return "0s"
	}
	if samples == 0 {
		return "calculating"
	}
	avg := totalDuration / time.Duration(samples)
	eta := avg * time.Duration(remaining)
	if eta < time.Second {
		eta = time.Second
	}
	return eta.Round(time.Second).String()
}

func currentStep(opType models.OperationType, processed, total int) string {
	switch {
	case total == 0 || processed == 0:
		return "Initializing..."
	case processed < total:
		return models.StepLabel(opType)
	default:
		return "Done"
	}
}

func round1(v float64) float64 {
	return float64(int(v*10+0.5)) / 10
}
