package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"genrouter/internal/model"
)

func TestEstimateTokens_BaseCosts(t *testing.T) {
	tests := []struct {
		name     string
		taskType model.TaskType
		expected int
	}{
		{"image", model.TaskTypeImage, 1000},
		{"code", model.TaskTypeCode, 500},
		{"code_project", model.TaskTypeCodeProject, 2000},
		{"prompt", model.TaskTypePrompt, 300},
		{"meeting", model.TaskTypeMeeting, 1500},
		{"people_image", model.TaskTypePeopleImage, 800},
		{"unknown type falls back to default", model.TaskType("video"), 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, EstimateTokens(tt.taskType, 0))
		})
	}
}

func TestEstimateTokens_ContentLength(t *testing.T) {
	tests := []struct {
		name          string
		taskType      model.TaskType
		contentLength int
		expected      int
	}{
		{"adds a tenth of the length", model.TaskTypeCode, 1000, 600},
		{"rounds the length component up", model.TaskTypeCode, 5, 501},
		{"single char still rounds up", model.TaskTypePrompt, 1, 301},
		{"exact multiple needs no rounding", model.TaskTypeImage, 50, 1005},
		{"negative length counts as zero", model.TaskTypeCode, -500, 500},
		{"large content", model.TaskTypeCodeProject, 100000, 12000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, EstimateTokens(tt.taskType, tt.contentLength))
		})
	}
}
