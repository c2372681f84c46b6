package dashboard

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/oldmantran/backlogsmith/internal/staging"
	"gorm.io/gorm"
)

// registerRoutes sets up all dashboard routes on the Gin router.
func registerRoutes(router *gin.Engine, db *gorm.DB) {
	router.GET("/healthz", handleHealth(db))
	router.GET("/api/jobs", handleJobList(db))
	router.GET("/api/jobs/:id/summary", handleJobSummary(db))
	router.GET("/api/jobs/:id/items", handleJobItems(db))
}

func handleHealth(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.Ping()
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func handleJobList(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		runs, err := ListRuns(db, 50)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"jobs": runs})
	}
}

func handleJobSummary(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		sum, err := staging.NewStore(db).Summary(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, sum)
	}
}

func handleJobItems(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		items, err := ListItems(db, c.Param("id"), c.Query("status"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": items})
	}
}
