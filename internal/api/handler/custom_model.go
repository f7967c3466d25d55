package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/qs3c/anno_train_server/internal/model/dto"
	"github.com/qs3c/anno_train_server/internal/pkg/response"
	"github.com/qs3c/anno_train_server/internal/service"
)

type CustomModelHandler struct {
	modelService *service.CustomModelService
}

func NewCustomModelHandler(modelService *service.CustomModelService) *CustomModelHandler {
	return &CustomModelHandler{modelService: modelService}
}

// Register POST /api/v1/projects/:id/models
func (h *CustomModelHandler) Register(c *gin.Context) {
	projectID, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req dto.RegisterModelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	m, err := h.modelService.Register(projectID, &req)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.SuccessWithMessage(c, "Model uploaded successfully", m)
}

// List GET /api/v1/projects/:id/models
func (h *CustomModelHandler) List(c *gin.Context) {
	projectID, ok := paramID(c, "id")
	if !ok {
		return
	}

	models, err := h.modelService.List(projectID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{"models": models})
}

// Delete DELETE /api/v1/models/:id
func (h *CustomModelHandler) Delete(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	if err := h.modelService.Delete(id); err != nil {
		response.FromError(c, err)
		return
	}
	response.SuccessWithMessage(c, "Model deleted successfully", nil)
}
