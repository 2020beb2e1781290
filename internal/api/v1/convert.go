package v1

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"bomflow/internal/model"
	"bomflow/internal/pipeline"
	"bomflow/internal/util"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ConvertResult done 事件附带的数据
type ConvertResult struct {
	Report      *model.JobReport `json:"report"`
	DownloadURL string           `json:"downloadUrl"`
}

// Convert 转换上传的 BOM 与坐标文件（SSE 进度，完成后提供下载地址）
// POST /api/convert  multipart: bom, coordinates, [bomSheet], [coordSheet]
func (h *Handler) Convert(c *gin.Context) {
	bomFile, err := c.FormFile("bom")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing bom file"})
		return
	}
	coordFile, err := c.FormFile("coordinates")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing coordinates file"})
		return
	}

	if err := util.EnsureDir(h.outputDir); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to prepare output dir"})
		return
	}
	if h.uploadDir != "" {
		if err := util.EnsureDir(h.uploadDir); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to prepare upload dir"})
			return
		}
	}
	tempDir, err := os.MkdirTemp(h.uploadDir, "upload-")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save upload"})
		return
	}
	defer os.RemoveAll(tempDir)

	bomName := filepath.Base(bomFile.Filename)
	bomPath := filepath.Join(tempDir, "bom_"+bomName)
	coordPath := filepath.Join(tempDir, "coord_"+filepath.Base(coordFile.Filename))
	if err := c.SaveUploadedFile(bomFile, bomPath); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save upload"})
		return
	}
	if err := c.SaveUploadedFile(coordFile, coordPath); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save upload"})
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	send := func(event pipeline.ProgressEvent) {
		b, err := json.Marshal(event)
		if err != nil {
			return
		}
		fmt.Fprintf(c.Writer, "data: %s\n\n", b)
		flusher.Flush()
	}

	jobID := uuid.NewString()
	outputPath := filepath.Join(h.outputDir, jobID+".xlsx")
	job := pipeline.Job{
		ID:              jobID,
		BOMPath:         bomPath,
		CoordinatePath:  coordPath,
		OutputPath:      outputPath,
		BOMSheet:        c.PostForm("bomSheet"),
		CoordinateSheet: c.PostForm("coordSheet"),
	}
	h.logger.Info("convert requested",
		zap.String("job", jobID),
		zap.String("bom", bomName),
		zap.String("coordinates", coordFile.Filename),
	)

	for event := range h.coordinator.Run(c.Request.Context(), job) {
		if rep, ok := event.Data.(*model.JobReport); ok {
			// 客户端只看到上传时的文件名
			rep.BOMFile = bomName
			rep.CoordinateFile = filepath.Base(coordFile.Filename)
			if event.Type == pipeline.EventDone {
				downloadName := filepath.Base(pipeline.DefaultOutputPath(bomName))
				token := h.downloads.put(outputPath, downloadName, h.downloadTTL)
				rep.OutputFile = downloadName
				event.Data = ConvertResult{
					Report:      rep,
					DownloadURL: downloadURL(c, token),
				}
			}
		}
		send(event)
	}
}

// DownloadOutput 下载转换结果（一次性）
// GET /api/convert/download/:token
func (h *Handler) DownloadOutput(c *gin.Context) {
	token := c.Param("token")
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing token"})
		return
	}

	item, ok := h.downloads.take(token)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "download link expired"})
		return
	}
	defer removeOutput(item.filePath)

	if _, err := os.Stat(item.filePath); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "output file not found"})
		return
	}

	c.Header("Content-Disposition", buildContentDisposition(item.filename))
	c.Header("Content-Type", xlsxContentType)
	c.File(item.filePath)
}

func downloadURL(c *gin.Context, token string) string {
	prefix := "/api"
	if strings.HasPrefix(c.Request.URL.Path, "/api/v1/") {
		prefix = "/api/v1"
	}
	return fmt.Sprintf("%s/convert/download/%s", prefix, token)
}

// buildContentDisposition ASCII 回退名 + RFC 5987 原文件名
func buildContentDisposition(filename string) string {
	fallback := strings.Map(func(r rune) rune {
		if r > 0x7e || r < 0x20 || r == '"' || r == '\\' {
			return '_'
		}
		return r
	}, filename)
	return fmt.Sprintf("attachment; filename=\"%s\"; filename*=UTF-8''%s", fallback, url.PathEscape(filename))
}
