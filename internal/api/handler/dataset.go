package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/qs3c/anno_train_server/internal/model/dto"
	"github.com/qs3c/anno_train_server/internal/pkg/response"
	"github.com/qs3c/anno_train_server/internal/service"
)

type DatasetHandler struct {
	datasetService *service.DatasetService
}

func NewDatasetHandler(datasetService *service.DatasetService) *DatasetHandler {
	return &DatasetHandler{datasetService: datasetService}
}

// CreateVersion 创建数据集版本
// POST /api/v1/projects/:id/versions
func (h *DatasetHandler) CreateVersion(c *gin.Context) {
	projectID, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req dto.CreateVersionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	version, err := h.datasetService.CreateVersion(projectID, &req)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.SuccessWithMessage(c, "Dataset version created successfully", version)
}

// ListVersions GET /api/v1/projects/:id/versions
func (h *DatasetHandler) ListVersions(c *gin.Context) {
	projectID, ok := paramID(c, "id")
	if !ok {
		return
	}

	items, err := h.datasetService.ListVersions(projectID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{"versions": items})
}

// GetVersion GET /api/v1/versions/:id
func (h *DatasetHandler) GetVersion(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	version, err := h.datasetService.GetVersion(id)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, version)
}

// DeleteVersion DELETE /api/v1/versions/:id
func (h *DatasetHandler) DeleteVersion(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	if err := h.datasetService.DeleteVersion(id); err != nil {
		response.FromError(c, err)
		return
	}
	response.SuccessWithMessage(c, "Dataset version deleted successfully", nil)
}
