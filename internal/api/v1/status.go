package v1

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// StatusResponse 服务状态响应
type StatusResponse struct {
	Status           string `json:"status"`
	Provider         string `json:"provider"`         // 补全服务，空表示仅规则分类
	CacheEntries     int    `json:"cacheEntries"`     // 分类缓存条目数
	PendingDownloads int    `json:"pendingDownloads"` // 未下载的输出
	JobLog           bool   `json:"jobLog"`           // 是否记录任务
	Uptime           string `json:"uptime"`
}

// GetStatus 获取服务状态
// GET /api/status
func (h *Handler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, StatusResponse{
		Status:           "ok",
		Provider:         h.provider,
		CacheEntries:     h.cache.Len(),
		PendingDownloads: h.downloads.len(),
		JobLog:           h.store != nil,
		Uptime:           time.Since(h.startedAt).Round(time.Second).String(),
	})
}
