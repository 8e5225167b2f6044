// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianSync/services/syncserver/handlers"
)

// SetupRoutes registers every sync server endpoint on router.
//
// metricsHandler serves /metrics; nil leaves the route unregistered.
func SetupRoutes(router *gin.Engine, tasks handlers.TaskDeps, sync handlers.SyncDeps, metricsHandler http.Handler) {
	router.GET("/health", handlers.HandleHealth())
	if metricsHandler != nil {
		router.GET("/metrics", gin.WrapH(metricsHandler))
	}

	v1 := router.Group("/v1")
	{
		taskRoutes := v1.Group("/tasks")
		{
			taskRoutes.POST("", handlers.HandleCreateTask(tasks))
			taskRoutes.GET("", handlers.HandleListTasks(tasks))
			taskRoutes.GET("/:id", handlers.HandleGetTask(tasks))
			taskRoutes.PUT("/:id", handlers.HandleUpdateTask(tasks))
			taskRoutes.PATCH("/:id/status", handlers.HandleSetTaskStatus(tasks))
			taskRoutes.DELETE("/:id", handlers.HandleDeleteTask(tasks))
		}

		syncRoutes := v1.Group("/sync")
		{
			syncRoutes.GET("/ws", handlers.HandleSyncWebSocket(sync))
			syncRoutes.GET("/stats", handlers.HandleSyncStats(sync))
		}
	}
}
