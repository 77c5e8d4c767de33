package controller

import "github.com/gin-gonic/gin"

// RegisterRoutes mounts every execution endpoint under /api/v1.
func RegisterRoutes(router gin.IRouter, triggers *TriggerController, languages *LanguageController, outputs *OutputController) {
	api := router.Group("/api/v1")

	t := api.Group("/triggers")
	t.PUT("/:id", triggers.Submit)
	t.GET("/:id", triggers.Get)
	t.POST("/:id/toggle/:stream", triggers.Toggle)
	t.DELETE("/:id", triggers.Delete)

	api.GET("/languages", languages.Search)

	o := api.Group("/outputs")
	o.GET("/:handle", outputs.Get)
	o.GET("/:handle/files/:name", outputs.File)
}
