package scheduler

import (
	"math"

	"genrouter/internal/model"
)

// Base token costs per task type. Unknown types fall back to the code cost.
var baseTokenCost = map[model.TaskType]int{
	model.TaskTypeImage:       1000,
	model.TaskTypeCode:        500,
	model.TaskTypeCodeProject: 2000,
	model.TaskTypePrompt:      300,
	model.TaskTypeMeeting:     1500,
	model.TaskTypePeopleImage: 800,
}

const (
	defaultBaseCost = 500
	costPerChar     = 0.1
)

// EstimateTokens predicts the token cost of a task before dispatch: the
// base cost of its type plus a length component, rounded up. The estimate
// is what gets reserved against an account; actual usage is reconciled
// after the connector reports back. Negative lengths count as zero.
func EstimateTokens(taskType model.TaskType, contentLength int) int {
	base, ok := baseTokenCost[taskType]
	if !ok {
		base = defaultBaseCost
	}
	if contentLength < 0 {
		contentLength = 0
	}
	return base + int(math.Ceil(float64(contentLength)*costPerChar))
}
