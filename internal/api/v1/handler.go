package v1

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"bomflow/internal/classifier"
	"bomflow/internal/pipeline"
	"bomflow/internal/store"
)

// Options 处理器依赖；Store/Cache 可为空
type Options struct {
	Coordinator *pipeline.Coordinator
	Store       *store.Store
	Cache       *classifier.Cache
	Provider    string // 补全服务名称，仅用于状态展示
	UploadDir   string // 上传文件临时目录
	OutputDir   string // 待下载输出目录
	DownloadTTL time.Duration
	Logger      *zap.Logger
}

// Handler API 处理器
type Handler struct {
	coordinator *pipeline.Coordinator
	store       *store.Store
	cache       *classifier.Cache
	provider    string
	uploadDir   string
	outputDir   string
	downloadTTL time.Duration
	downloads   *downloadStore
	logger      *zap.Logger
	startedAt   time.Time
}

// NewHandler 创建 API 处理器
func NewHandler(opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.DownloadTTL <= 0 {
		opts.DownloadTTL = 10 * time.Minute
	}
	return &Handler{
		coordinator: opts.Coordinator,
		store:       opts.Store,
		cache:       opts.Cache,
		provider:    opts.Provider,
		uploadDir:   opts.UploadDir,
		outputDir:   opts.OutputDir,
		downloadTTL: opts.DownloadTTL,
		downloads:   newDownloadStore(),
		logger:      opts.Logger,
		startedAt:   time.Now(),
	}
}

// RegisterRoutes 注册 API 路由
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	// 服务状态
	router.GET("/status", h.GetStatus)

	// 转换（SSE 进度 + 一次性下载）
	router.POST("/convert", h.Convert)
	router.GET("/convert/download/:token", h.DownloadOutput)

	// 任务记录
	router.GET("/jobs", h.ListJobs)
	router.GET("/jobs/:id", h.GetJob)

	// 分类缓存
	router.POST("/cache/purge", h.PurgeCache)
}

// Close 清理未被下载的输出文件
func (h *Handler) Close() {
	h.downloads.purgeAll()
}
