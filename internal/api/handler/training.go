package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/qs3c/anno_train_server/internal/model/dto"
	"github.com/qs3c/anno_train_server/internal/pkg/response"
	"github.com/qs3c/anno_train_server/internal/service"
)

type TrainingHandler struct {
	trainingService *service.TrainingService
}

func NewTrainingHandler(trainingService *service.TrainingService) *TrainingHandler {
	return &TrainingHandler{trainingService: trainingService}
}

// Start 启动训练
// POST /api/v1/projects/:id/training
func (h *TrainingHandler) Start(c *gin.Context) {
	projectID, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req dto.StartTrainingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	job, err := h.trainingService.StartTraining(c.Request.Context(), projectID, &req)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.SuccessWithMessage(c, "Training started", job)
}

// List GET /api/v1/projects/:id/training
func (h *TrainingHandler) List(c *gin.Context) {
	projectID, ok := paramID(c, "id")
	if !ok {
		return
	}

	jobs, err := h.trainingService.ListJobs(projectID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{"jobs": jobs})
}

// Get GET /api/v1/training/:id
func (h *TrainingHandler) Get(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	job, err := h.trainingService.GetJob(id)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, job)
}

// Stop 请求在当前 epoch 结束后停止
// POST /api/v1/training/:id/stop
func (h *TrainingHandler) Stop(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	if err := h.trainingService.StopEarly(id); err != nil {
		response.FromError(c, err)
		return
	}
	response.SuccessWithMessage(c, "Training will stop after the current epoch", nil)
}

// Cancel POST /api/v1/training/:id/cancel
func (h *TrainingHandler) Cancel(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	if err := h.trainingService.Cancel(c.Request.Context(), id); err != nil {
		response.FromError(c, err)
		return
	}
	response.SuccessWithMessage(c, "Training cancelled", nil)
}

// Delete DELETE /api/v1/training/:id
func (h *TrainingHandler) Delete(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	resp, err := h.trainingService.Delete(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, err)
		return
	}
	if resp.Cancelled {
		response.SuccessWithMessage(c, "Training job cancelled", resp)
		return
	}
	response.SuccessWithMessage(c, "Training job deleted", resp)
}

// Evaluate 在测试集上补做评估
// POST /api/v1/training/:id/evaluate
func (h *TrainingHandler) Evaluate(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	if err := h.trainingService.EvaluateOnTest(c.Request.Context(), id); err != nil {
		response.FromError(c, err)
		return
	}
	response.SuccessWithMessage(c, "Evaluation queued", nil)
}
