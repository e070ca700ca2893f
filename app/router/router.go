package router

import (
	"genrouter/app/handler"
	"genrouter/app/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router Router
type Router struct {
	taskHandler  *handler.TaskHandler
	adminHandler *handler.AdminHandler
}

// NewRouter creates a new Router
func NewRouter(taskHandler *handler.TaskHandler, adminHandler *handler.AdminHandler) *Router {
	return &Router{
		taskHandler:  taskHandler,
		adminHandler: adminHandler,
	}
}

// Setup sets up routes
func (r *Router) Setup(engine *gin.Engine) {
	engine.Use(middleware.Recovery())
	engine.Use(middleware.Logger())

	// V1 API - Client task interface
	v1 := engine.Group("/v1")
	{
		tasks := v1.Group("/tasks")
		{
			tasks.POST("", r.taskHandler.Submit)                // Submit task
			tasks.GET("", r.taskHandler.ListTasks)              // List tasks with optional filtering
			tasks.GET("/:task_id", r.taskHandler.Status)        // Task status with assignment history
			tasks.DELETE("/:task_id", r.taskHandler.Delete)     // Delete finished task
			tasks.POST("/:task_id/cancel", r.taskHandler.Cancel)
			tasks.GET("/:task_id/watch", r.taskHandler.Watch)   // WebSocket snapshots until terminal
		}

		// Admin API - Provider and account management (token protected)
		if r.adminHandler != nil {
			admin := v1.Group("/admin")
			admin.Use(middleware.AuthMiddleware())
			{
				providers := admin.Group("/providers")
				{
					providers.POST("", r.adminHandler.AddProvider)
					providers.GET("", r.adminHandler.ListProviders)
					providers.GET("/fallback", r.adminHandler.ListFallbackProviders) // Competency ranking for a task type
					providers.GET("/:provider_id", r.adminHandler.GetProvider)
					providers.PUT("/:provider_id/status", r.adminHandler.SetProviderStatus)
					providers.POST("/:provider_id/test", r.adminHandler.TestDispatch) // Connectivity probe
					providers.DELETE("/:provider_id", r.adminHandler.DeleteProvider)
				}

				accounts := admin.Group("/accounts")
				{
					accounts.POST("", r.adminHandler.AddAccount)
					accounts.PUT("/:account_id", r.adminHandler.UpdateAccount)
					accounts.PUT("/:account_id/status", r.adminHandler.SetAccountStatus)
					accounts.POST("/:account_id/usage", r.adminHandler.AdjustUsage)   // Manual ledger adjustment
					accounts.POST("/:account_id/reset", r.adminHandler.ResetAccount)  // Manual usage reset
					accounts.DELETE("/:account_id", r.adminHandler.DeleteAccount)
				}

				admin.GET("/route-preview", r.adminHandler.RoutePreview) // Dry-run candidate selection
				admin.POST("/tokens/reset", r.adminHandler.TriggerReset) // Run the reset sweep now
			}
		}
	}

	// Health check
	engine.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Prometheus metrics
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
