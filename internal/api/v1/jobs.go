package v1

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"bomflow/internal/store"
)

// ListJobs 最近的任务记录
// GET /api/jobs?limit=50
func (h *Handler) ListJobs(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "job log is disabled"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 || limit > 500 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
		return
	}

	jobs, err := h.store.ListJobs(limit)
	if err != nil {
		h.logger.Error("list jobs", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list jobs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

// GetJob 任务详情（含未写出的行及原因）
// GET /api/jobs/:id
func (h *Handler) GetJob(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "job log is disabled"})
		return
	}
	job, err := h.store.GetJob(c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		h.logger.Error("get job", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get job"})
		return
	}
	c.JSON(http.StatusOK, job)
}

// PurgeCache 清空分类缓存
// POST /api/cache/purge
func (h *Handler) PurgeCache(c *gin.Context) {
	n := h.cache.Purge()
	h.logger.Info("classification cache purged", zap.Int("entries", n))
	c.JSON(http.StatusOK, gin.H{"purged": n})
}
