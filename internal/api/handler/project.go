package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/qs3c/anno_train_server/internal/model/dto"
	"github.com/qs3c/anno_train_server/internal/pkg/response"
	"github.com/qs3c/anno_train_server/internal/service"
)

type ProjectHandler struct {
	projectService *service.ProjectService
}

func NewProjectHandler(projectService *service.ProjectService) *ProjectHandler {
	return &ProjectHandler{projectService: projectService}
}

// Create 创建项目
// POST /api/v1/projects
func (h *ProjectHandler) Create(c *gin.Context) {
	var req dto.CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	project, err := h.projectService.Create(&req)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.SuccessWithMessage(c, "Project created successfully", project)
}

// Get 项目详情
// GET /api/v1/projects/:id
func (h *ProjectHandler) Get(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	detail, err := h.projectService.Get(id)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, detail)
}

// Delete 删除项目
// DELETE /api/v1/projects/:id
func (h *ProjectHandler) Delete(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	if err := h.projectService.Delete(id); err != nil {
		response.FromError(c, err)
		return
	}
	response.SuccessWithMessage(c, "Project deleted successfully", nil)
}
