package store

import "livequeue/queue-service/internal/models"

const (
	ActionApprove = "approve"
	ActionReject  = "reject"
)

var transitionMap = map[string][]string{
	ActionApprove: {models.RequestPending},
	ActionReject:  {models.RequestPending},
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

// TargetStatus is the status a request lands in after action.
func TargetStatus(action string) string {
	switch action {
	case ActionApprove:
		return models.RequestApproved
	case ActionReject:
		return models.RequestRejected
	default:
		return ""
	}
}
