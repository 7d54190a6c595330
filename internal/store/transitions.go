package store

import "autoshop/workshop-service/internal/models"

var transitionMap = map[string][]string{
	"claim":          {models.StatusPending, models.StatusInProgress},
	"complete":       {models.StatusInProgress},
	"cancel":         {models.StatusPending, models.StatusInProgress},
	"quality_submit": {models.StatusCompleted},
	"quality_reject": {models.StatusCompleted},
}

func ValidTransition(action, fromStatus string) bool {
	allowed, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == fromStatus {
			return true
		}
	}
	return false
}
