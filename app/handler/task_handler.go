package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"genrouter/internal/model"
	"genrouter/internal/service"
	"genrouter/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// watchPollInterval is how often the watch endpoint re-reads a task.
const watchPollInterval = time.Second

// TaskHandler handles task operations
type TaskHandler struct {
	taskService *service.TaskService
}

// NewTaskHandler creates task handler
func NewTaskHandler(taskService *service.TaskService) *TaskHandler {
	return &TaskHandler{
		taskService: taskService,
	}
}

// Submit submits a task
// @Summary Submit task
// @Description Submit an async generation task, returns the task ID immediately
// @Tags tasks
// @Accept json
// @Produce json
// @Param request body model.SubmitRequest true "Task request"
// @Success 200 {object} model.SubmitResponse
// @Router /v1/tasks [post]
func (h *TaskHandler) Submit(c *gin.Context) {
	var req model.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.ErrorCtx(c.Request.Context(), "invalid request: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	resp, err := h.taskService.SubmitTask(c.Request.Context(), &req)
	if err != nil {
		if errors.Is(err, service.ErrInvalidRequest) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		logger.ErrorCtx(c.Request.Context(), "failed to submit task: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// Status gets task status
// @Summary Get task status
// @Description Get task status with its assignment history
// @Tags tasks
// @Produce json
// @Param task_id path string true "Task ID"
// @Success 200 {object} model.TaskResponse
// @Router /v1/tasks/{task_id} [get]
func (h *TaskHandler) Status(c *gin.Context) {
	taskID := c.Param("task_id")
	if taskID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "task_id required"})
		return
	}

	resp, err := h.taskService.GetTaskStatus(c.Request.Context(), taskID)
	if err != nil {
		if errors.Is(err, service.ErrTaskNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
			return
		}
		logger.ErrorCtx(c.Request.Context(), "failed to get task status, task_id: %s, error: %v", taskID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// ListTasks gets task list
// @Summary Get task list
// @Description Get task list, supports filtering by status and task_type, supports pagination
// @Tags tasks
// @Produce json
// @Param status query string false "Task status (pending, processing, completed, failed, cancelled)"
// @Param task_type query string false "Task type"
// @Param limit query int false "Return count limit (default 100)"
// @Param offset query int false "Offset (default 0)"
// @Success 200 {object} map[string]interface{} "Return format: {tasks: [], total: 0, limit: 100, offset: 0}"
// @Router /v1/tasks [get]
func (h *TaskHandler) ListTasks(c *gin.Context) {
	status := c.Query("status")
	taskType := c.Query("task_type")

	limit := 100
	if limitParam := c.Query("limit"); limitParam != "" {
		if parsedLimit, err := strconv.Atoi(limitParam); err == nil && parsedLimit > 0 {
			limit = parsedLimit
		}
	}

	offset := 0
	if offsetParam := c.Query("offset"); offsetParam != "" {
		if parsedOffset, err := strconv.Atoi(offsetParam); err == nil && parsedOffset >= 0 {
			offset = parsedOffset
		}
	}

	tasks, total, err := h.taskService.ListTasks(c.Request.Context(), status, taskType, limit, offset)
	if err != nil {
		logger.ErrorCtx(c.Request.Context(), "failed to list tasks: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"tasks":  tasks,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// Cancel cancels task
// @Summary Cancel task
// @Description Cancel a task that has not finished yet
// @Tags tasks
// @Param task_id path string true "Task ID"
// @Success 200 {object} map[string]string
// @Router /v1/tasks/{task_id}/cancel [post]
func (h *TaskHandler) Cancel(c *gin.Context) {
	taskID := c.Param("task_id")
	if taskID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "task_id required"})
		return
	}

	if err := h.taskService.CancelTask(c.Request.Context(), taskID); err != nil {
		switch {
		case errors.Is(err, service.ErrTaskNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		case errors.Is(err, service.ErrTaskFinished):
			c.JSON(http.StatusConflict, gin.H{"error": "task already finished"})
		default:
			logger.ErrorCtx(c.Request.Context(), "failed to cancel task, task_id: %s, error: %v", taskID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "task cancelled"})
}

// Delete deletes a finished task
// @Summary Delete task
// @Description Delete a task that already reached a terminal state
// @Tags tasks
// @Param task_id path string true "Task ID"
// @Success 200 {object} map[string]string
// @Router /v1/tasks/{task_id} [delete]
func (h *TaskHandler) Delete(c *gin.Context) {
	taskID := c.Param("task_id")
	if taskID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "task_id required"})
		return
	}

	if err := h.taskService.DeleteTask(c.Request.Context(), taskID); err != nil {
		switch {
		case errors.Is(err, service.ErrTaskNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		case errors.Is(err, service.ErrInvalidRequest):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			logger.ErrorCtx(c.Request.Context(), "failed to delete task, task_id: %s, error: %v", taskID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "task deleted"})
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins, production should use stricter checks
	},
}

// Watch streams task snapshots over WebSocket
// @Summary Watch task
// @Description WebSocket stream of task snapshots; sends one snapshot per state change and closes once the task is terminal
// @Tags tasks
// @Param task_id path string true "Task ID"
// @Router /v1/tasks/{task_id}/watch [get]
func (h *TaskHandler) Watch(c *gin.Context) {
	taskID := c.Param("task_id")
	if taskID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "task_id required"})
		return
	}

	// Reject unknown tasks before committing to the upgrade.
	if _, err := h.taskService.GetTaskStatus(c.Request.Context(), taskID); err != nil {
		if errors.Is(err, service.ErrTaskNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
			return
		}
		logger.ErrorCtx(c.Request.Context(), "failed to get task status, task_id: %s, error: %v", taskID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.ErrorCtx(c.Request.Context(), "failed to upgrade to websocket: %v", err)
		return
	}
	defer ws.Close()

	// Read pump: the client never sends data, but reading is how we learn
	// it hung up.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(watchPollInterval)
	defer ticker.Stop()

	var lastSnapshot string
	for {
		resp, err := h.taskService.GetTaskStatus(c.Request.Context(), taskID)
		if err != nil {
			ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "task lookup failed"))
			return
		}

		payload, err := json.Marshal(resp)
		if err != nil {
			logger.ErrorCtx(c.Request.Context(), "failed to marshal task snapshot, task_id: %s, error: %v", taskID, err)
			return
		}
		if string(payload) != lastSnapshot {
			lastSnapshot = string(payload)
			if err := ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		}

		if model.TaskStatus(resp.Status).Terminal() {
			ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "task finished"))
			return
		}

		select {
		case <-clientGone:
			return
		case <-c.Request.Context().Done():
			return
		case <-ticker.C:
		}
	}
}
