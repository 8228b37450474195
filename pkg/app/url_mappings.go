package app

import (
	"github.com/osvaldoandrade/imagegate/internal/controllers"
	"github.com/osvaldoandrade/imagegate/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func SetupMappings(app *Application) {
	app.Engine.GET("/healthz", controllers.NewHealthController(app.Storage, app.Config.Storage.Backend).Handle)
	app.Engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	images := app.Engine.Group("/images")
	protected := images.Group("",
		middleware.AuthMiddleware(app.Validator),
		middleware.RequireScope(app.Config.Auth.RequiredScope),
	)
	{
		protected.POST("/generate",
			middleware.RateLimitGenerate(app.RateLimiter, app.Config.RateLimit.Generate),
			controllers.NewGenerateImageController(app.Generation).Handle,
		)
		protected.GET("/tasks/:taskId", controllers.NewGetTaskStatusController(app.Generation).Handle)
	}
	images.GET("/:guid", controllers.NewGetImageController(app.Assets).Handle)
}
