package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/tnqbao/gau-lipsync-orchestrator/http/controller"
	middlewares "github.com/tnqbao/gau-lipsync-orchestrator/http/middleware"
)

func SetupRouter(ctrl *controller.Controller) *gin.Engine {
	r := gin.Default()
	middles, err := middlewares.NewMiddlewares(ctrl)
	if err != nil {
		panic(err)
	}

	r.Use(middles.CORSMiddleware)

	r.GET("/healthz", ctrl.Health)

	jobRoutes := r.Group("/jobs")
	{
		jobRoutes.Use(middles.AuthMiddleware)

		jobRoutes.POST("", ctrl.SubmitJob)
		jobRoutes.POST("/", ctrl.SubmitJob)
		jobRoutes.GET("", ctrl.ListJobs)
		jobRoutes.GET("/:id", ctrl.GetJob)
	}

	// stage triggers called by other services
	internalRoutes := r.Group("")
	{
		internalRoutes.Use(middles.InternalAuthMiddleware)

		internalRoutes.POST("/process_audio", ctrl.ProcessAudio)
		internalRoutes.POST("/process_video", ctrl.ProcessVideo)
	}

	return r
}
