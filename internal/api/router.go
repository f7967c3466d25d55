package api

import (
	"github.com/gin-gonic/gin"

	"github.com/qs3c/anno_train_server/config"
	"github.com/qs3c/anno_train_server/internal/api/handler"
	"github.com/qs3c/anno_train_server/internal/api/middleware"
	"github.com/qs3c/anno_train_server/internal/pkg/metrics"
)

type Router struct {
	projectHandler   *handler.ProjectHandler
	datasetHandler   *handler.DatasetHandler
	trainingHandler  *handler.TrainingHandler
	modelHandler     *handler.CustomModelHandler
	websocketHandler *handler.WebSocketHandler
	cfg              *config.Config
}

func NewRouter(
	projectHandler *handler.ProjectHandler,
	datasetHandler *handler.DatasetHandler,
	trainingHandler *handler.TrainingHandler,
	modelHandler *handler.CustomModelHandler,
	websocketHandler *handler.WebSocketHandler,
	cfg *config.Config,
) *Router {
	return &Router{
		projectHandler:   projectHandler,
		datasetHandler:   datasetHandler,
		trainingHandler:  trainingHandler,
		modelHandler:     modelHandler,
		websocketHandler: websocketHandler,
		cfg:              cfg,
	}
}

func (r *Router) Setup() *gin.Engine {
	if r.cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.AccessLog())
	engine.Use(middleware.CORS(r.cfg.CORS))

	engine.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := engine.Group("/api/v1")
	{
		// WebSocket
		api.GET("/ws", r.websocketHandler.Handle)

		// 项目
		projects := api.Group("/projects")
		{
			projects.POST("", r.projectHandler.Create)
			projects.GET("/:id", r.projectHandler.Get)
			projects.DELETE("/:id", r.projectHandler.Delete)

			projects.POST("/:id/versions", r.datasetHandler.CreateVersion)
			projects.GET("/:id/versions", r.datasetHandler.ListVersions)

			projects.POST("/:id/training", r.trainingHandler.Start)
			projects.GET("/:id/training", r.trainingHandler.List)

			projects.POST("/:id/models", r.modelHandler.Register)
			projects.GET("/:id/models", r.modelHandler.List)
		}

		// 数据集版本
		versions := api.Group("/versions")
		{
			versions.GET("/:id", r.datasetHandler.GetVersion)
			versions.DELETE("/:id", r.datasetHandler.DeleteVersion)
		}

		// 训练任务
		training := api.Group("/training")
		{
			training.GET("/:id", r.trainingHandler.Get)
			training.DELETE("/:id", r.trainingHandler.Delete)
			training.POST("/:id/stop", r.trainingHandler.Stop)
			training.POST("/:id/cancel", r.trainingHandler.Cancel)
			training.POST("/:id/evaluate", r.trainingHandler.Evaluate)
		}

		api.DELETE("/models/:id", r.modelHandler.Delete)
	}

	return engine
}
