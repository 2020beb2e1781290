package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"bomflow/internal/classifier"
	"bomflow/internal/exporter"
	"bomflow/internal/merger"
	"bomflow/internal/metrics"
	"bomflow/internal/model"
	"bomflow/internal/parser"
	"bomflow/internal/storage"
	"bomflow/internal/store"
	"bomflow/internal/util"
)

// 进度事件类型
const (
	EventStart         = "start"
	EventState         = "state"
	EventRowClassified = "row_classified"
	EventWarning       = "warning"
	EventDone          = "done"
	EventError         = "error"
)

// Job 一次转换任务（一对 BOM/坐标文件）
type Job struct {
	ID              string
	BOMPath         string // 本地路径或 s3://bucket/key
	CoordinatePath  string
	OutputPath      string // 为空时写到 BOM 同目录下 <name>_normalized.xlsx
	BOMSheet        string
	CoordinateSheet string
	TemplatePath    string // 为空时使用协调器默认模板
}

// ProgressEvent 进度事件
type ProgressEvent struct {
	Type      string         `json:"type"`    // start/state/row_classified/warning/done/error
	Message   string         `json:"message"` // 事件消息
	State     model.JobState `json:"state,omitempty"`
	Data      any            `json:"data,omitempty"` // 附加数据；done/error 为 *model.JobReport
	Timestamp time.Time      `json:"timestamp"`
}

// Options 协调器依赖；除分类器外均可为空
type Options struct {
	Template     exporter.Template
	TemplatePath string
	Delimiters   string
	Source       *storage.Source
	Store        *store.Store
	Recorder     *metrics.Recorder
	Logger       *zap.Logger
	WorkDir      string // s3 下载与上传的临时目录，默认系统临时目录
}

// Coordinator 转换协调器：读取 → 分类 → 合并 → 写出
type Coordinator struct {
	classifier *classifier.Classifier
	merger     *merger.Merger
	opts       Options
	logger     *zap.Logger
}

// NewCoordinator 创建转换协调器
func NewCoordinator(cls *classifier.Classifier, mg *merger.Merger, opts Options) *Coordinator {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Template.Sheet == "" {
		opts.Template = exporter.DefaultTemplate()
	}
	if mg == nil {
		mg = merger.New(merger.Options{})
	}
	return &Coordinator{
		classifier: cls,
		merger:     mg,
		opts:       opts,
		logger:     opts.Logger,
	}
}

// Run 异步执行任务，返回进度通道；通道以 done 或 error 事件结束后关闭
func (c *Coordinator) Run(ctx context.Context, job Job) <-chan ProgressEvent {
	em := newEmitter(64)
	go func() {
		defer close(em.ch)
		_, _ = c.Execute(ctx, job, em.send)
	}()
	return em.ch
}

// Execute 同步执行任务；emit 可为 nil
//
// 返回的报告总是填好终止状态；err 非空时报告状态为 failed 或 cancelled。
func (c *Coordinator) Execute(ctx context.Context, job Job, emit func(ProgressEvent)) (*model.JobReport, error) {
	if emit == nil {
		emit = func(ProgressEvent) {}
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}

	run := &jobRun{
		c:      c,
		job:    job,
		emit:   emit,
		logger: c.logger.With(zap.String("job", job.ID)),
		report: &model.JobReport{
			JobID:          job.ID,
			BOMFile:        job.BOMPath,
			CoordinateFile: job.CoordinatePath,
			OutputFile:     job.OutputPath,
			State:          model.StateIdle,
			StartedAt:      time.Now(),
			Issues:         []model.RowIssue{},
		},
	}
	defer run.cleanup()

	if c.opts.Store != nil {
		if err := c.opts.Store.CreateJob(*run.report); err != nil {
			run.logger.Warn("failed to log job", zap.Error(err))
		}
	}

	emit(ProgressEvent{
		Type:    EventStart,
		Message: "开始转换",
		State:   model.StateIdle,
		Data: map[string]string{
			"jobId":       job.ID,
			"bom":         filepath.Base(job.BOMPath),
			"coordinates": filepath.Base(job.CoordinatePath),
		},
		Timestamp: time.Now(),
	})

	err := run.execute(ctx)
	return run.finish(err)
}

type jobRun struct {
	c       *Coordinator
	job     Job
	emit    func(ProgressEvent)
	logger  *zap.Logger
	report  *model.JobReport
	tempDir string
}

func (r *jobRun) execute(ctx context.Context) error {
	c := r.c

	// 模板先于任何读取完成校验，不符合时不做任何工作
	templatePath := r.job.TemplatePath
	if templatePath == "" {
		templatePath = c.opts.TemplatePath
	}
	tmpl, err := exporter.OpenTemplate(templatePath)
	if err != nil {
		return err
	}
	defer tmpl.Close()
	if err := c.opts.Template.Validate(tmpl); err != nil {
		return err
	}

	r.setState(model.StateReading, "读取输入文件")
	bomPath, err := r.fetch(ctx, r.job.BOMPath, "bom")
	if err != nil {
		return err
	}
	coordPath, err := r.fetch(ctx, r.job.CoordinatePath, "coordinates")
	if err != nil {
		return err
	}
	bomRows, err := readWorkbook(bomPath, func(wb *parser.Workbook) ([]model.BOMRow, error) {
		return parser.ReadBOM(wb, parser.ReadOptions{Sheet: r.job.BOMSheet, Delimiters: c.opts.Delimiters})
	})
	if err != nil {
		return err
	}
	coords, err := readWorkbook(coordPath, func(wb *parser.Workbook) ([]model.CoordinateEntry, error) {
		return parser.ReadCoordinates(wb, parser.ReadOptions{Sheet: r.job.CoordinateSheet, Delimiters: c.opts.Delimiters})
	})
	if err != nil {
		return err
	}
	r.report.TotalRows = len(bomRows)
	r.logger.Info("inputs read", zap.Int("bomRows", len(bomRows)), zap.Int("coordinates", len(coords)))
	if err := ctx.Err(); err != nil {
		return err
	}

	r.setState(model.StateClassifying, fmt.Sprintf("分类 %d 行", len(bomRows)))
	res, err := c.classifier.ClassifyAll(ctx, bomRows, func(done, total int) {
		r.emit(ProgressEvent{
			Type:      EventRowClassified,
			Message:   fmt.Sprintf("已分类 %d/%d", done, total),
			State:     model.StateClassifying,
			Data:      map[string]int{"done": done, "total": total},
			Timestamp: time.Now(),
		})
	})
	r.report.LLMCalls = res.Calls
	if err != nil {
		return err
	}
	for _, f := range res.Failures {
		r.addIssue(model.RowIssue{LineNumber: f.LineNumber, Kind: model.IssueFailed, Reason: f.Reason})
	}

	r.setState(model.StateMerging, "合并坐标")
	merged := c.merger.Merge(res.Rows, coords)
	for _, d := range merged.Dropped {
		r.addIssue(d)
	}
	if n := merged.Unmatched(); n > 0 {
		r.warn(fmt.Sprintf("%d 个位号在坐标文件中未找到", n))
	}
	sort.SliceStable(r.report.Issues, func(i, j int) bool {
		return r.report.Issues[i].LineNumber < r.report.Issues[j].LineNumber
	})
	if err := ctx.Err(); err != nil {
		return err
	}

	r.setState(model.StateWriting, "写出结果")
	summary := exporter.NewSummary(filepath.Base(r.job.BOMPath), merged.Rows, r.report.Issues)
	writer := exporter.NewWriter(c.opts.Template)
	err = writer.Write(tmpl, merged.Rows, summary, func(p exporter.ProgressEvent) {
		r.logger.Debug("write progress", zap.String("stage", p.Stage), zap.Int("percent", p.Percent))
	})
	if err != nil {
		return err
	}

	outPath := r.outputPath()
	localOut := outPath
	if storage.IsS3URI(outPath) {
		dir, err := r.workDir("output")
		if err != nil {
			return err
		}
		localOut = filepath.Join(dir, filepath.Base(outPath))
	}
	if err := exporter.SaveAtomic(tmpl, localOut); err != nil {
		return fmt.Errorf("save output: %w", err)
	}
	if localOut != outPath {
		if err := c.opts.Source.Put(ctx, localOut, outPath); err != nil {
			return err
		}
	}

	r.report.OutputFile = outPath
	r.report.ConvertedRows = len(merged.Rows)
	r.report.FailedRows = len(res.Failures)
	r.report.DroppedRows = len(merged.Dropped)
	r.report.TotalQuantity = summary.TotalQuantity
	return nil
}

// finish 填写终止状态，落库、记录指标并发送终止事件
func (r *jobRun) finish(err error) (*model.JobReport, error) {
	rep := r.report
	rep.Duration = time.Since(rep.StartedAt)
	switch {
	case err == nil:
		rep.State = model.StateDone
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		rep.State = model.StateCancelled
		rep.Error = err.Error()
	default:
		rep.State = model.StateFailed
		rep.Error = err.Error()
	}

	if err == nil {
		if werr := r.writeSidecar(); werr != nil {
			r.logger.Warn("failed to write report sidecar", zap.Error(werr))
		}
	}

	rec := r.c.opts.Recorder
	rec.RecordJob(string(rep.State), rep.Duration)
	rec.RecordRows("converted", rep.ConvertedRows)
	rec.RecordRows("failed", rep.FailedRows)
	rec.RecordRows("dropped", rep.DroppedRows)

	if st := r.c.opts.Store; st != nil {
		if serr := st.CompleteJob(*rep); serr != nil {
			r.logger.Warn("failed to complete job log", zap.Error(serr))
		}
	}

	if err != nil {
		r.logger.Error("job failed", zap.String("state", string(rep.State)), zap.Error(err))
		r.emit(ProgressEvent{
			Type:      EventError,
			Message:   fmt.Sprintf("转换失败: %v", err),
			State:     rep.State,
			Data:      rep,
			Timestamp: time.Now(),
		})
		return rep, err
	}

	r.logger.Info("job done",
		zap.Int("converted", rep.ConvertedRows),
		zap.Int("failed", rep.FailedRows),
		zap.Int("dropped", rep.DroppedRows),
		zap.Int64("llmCalls", rep.LLMCalls),
		zap.Duration("duration", rep.Duration),
	)
	r.emit(ProgressEvent{
		Type:      EventDone,
		Message:   fmt.Sprintf("转换完成: %d 行转换, %d 行失败, %d 行剔除", rep.ConvertedRows, rep.FailedRows, rep.DroppedRows),
		State:     rep.State,
		Data:      rep,
		Timestamp: time.Now(),
	})
	return rep, nil
}

func (r *jobRun) setState(s model.JobState, msg string) {
	r.report.State = s
	r.logger.Debug("job state", zap.String("state", string(s)))
	r.emit(ProgressEvent{
		Type:      EventState,
		Message:   msg,
		State:     s,
		Timestamp: time.Now(),
	})
}

func (r *jobRun) warn(msg string) {
	r.emit(ProgressEvent{
		Type:      EventWarning,
		Message:   msg,
		State:     r.report.State,
		Timestamp: time.Now(),
	})
}

func (r *jobRun) addIssue(is model.RowIssue) {
	r.report.Issues = append(r.report.Issues, is)
	r.warn(fmt.Sprintf("第 %d 行未写出 (%s): %s", is.LineNumber, is.Kind, is.Reason))
}

// fetch 将 s3 输入下载到任务临时目录下按用途区分的子目录（同名对象互不覆盖）
func (r *jobRun) fetch(ctx context.Context, p, role string) (string, error) {
	if !storage.IsS3URI(p) {
		return p, nil
	}
	dir, err := r.workDir(role)
	if err != nil {
		return "", err
	}
	return r.c.opts.Source.Fetch(ctx, p, dir)
}

func (r *jobRun) workDir(sub string) (string, error) {
	if r.tempDir == "" {
		base := r.c.opts.WorkDir
		if base != "" {
			if err := util.EnsureDir(base); err != nil {
				return "", err
			}
		}
		dir, err := os.MkdirTemp(base, "bomflow-"+r.job.ID+"-")
		if err != nil {
			return "", err
		}
		r.tempDir = dir
	}
	dir := filepath.Join(r.tempDir, sub)
	if err := util.EnsureDir(dir); err != nil {
		return "", err
	}
	return dir, nil
}

func (r *jobRun) cleanup() {
	if r.tempDir != "" {
		_ = os.RemoveAll(r.tempDir)
	}
}

func (r *jobRun) outputPath() string {
	if r.job.OutputPath != "" {
		return r.job.OutputPath
	}
	return DefaultOutputPath(r.job.BOMPath)
}

// writeSidecar 在本地输出文件旁写入 <output>.report.json
func (r *jobRun) writeSidecar() error {
	out := r.report.OutputFile
	if out == "" || storage.IsS3URI(out) {
		return nil
	}
	return util.WriteJSONAtomic(SidecarPath(out), r.report)
}

// DefaultOutputPath BOM 同目录下的 <name>_normalized.xlsx（s3 输入则写到当前目录）
func DefaultOutputPath(bomPath string) string {
	name := filepath.Base(bomPath)
	name = strings.TrimSuffix(name, filepath.Ext(name)) + "_normalized.xlsx"
	if storage.IsS3URI(bomPath) {
		return name
	}
	return filepath.Join(filepath.Dir(bomPath), name)
}

// SidecarPath 报告文件路径
func SidecarPath(outputPath string) string {
	return outputPath + ".report.json"
}

func readWorkbook[T any](path string, read func(*parser.Workbook) ([]T, error)) ([]T, error) {
	wb, err := parser.Open(path)
	if err != nil {
		return nil, err
	}
	defer wb.Close()
	return read(wb)
}

// emitter 非终止事件在通道将满时丢弃，始终为终止事件保留一个位置
type emitter struct {
	mu sync.Mutex
	ch chan ProgressEvent
}

func newEmitter(size int) *emitter {
	return &emitter{ch: make(chan ProgressEvent, size+1)}
}

func (e *emitter) send(evt ProgressEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	terminal := evt.Type == EventDone || evt.Type == EventError
	if !terminal && len(e.ch) >= cap(e.ch)-1 {
		return
	}
	select {
	case e.ch <- evt:
	default:
		// 通道已满，丢弃事件
	}
}
