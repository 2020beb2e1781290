package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"bomflow/internal/app"
	"bomflow/internal/model"
	"bomflow/internal/pipeline"
)

type convertOptions struct {
	bom        string
	coords     string
	out        string
	bomSheet   string
	coordSheet string
	template   string
	noJobLog   bool
}

func newConvertCmd(root *rootOptions) *cobra.Command {
	opts := &convertOptions{}
	cmd := &cobra.Command{
		Use:   "convert",
		Short: "转换一对 BOM / 坐标文件",
		Example: `  bomflow convert --bom board.xlsx --coords pnp.csv
  bomflow convert --bom s3://boms/rev-b/bom.xlsx --coords s3://boms/rev-b/pnp.txt --out out.xlsx`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConvert(cmd, root, opts)
		},
	}

	cmd.Flags().StringVar(&opts.bom, "bom", "", "BOM 文件 (本地路径或 s3://bucket/key)")
	cmd.Flags().StringVar(&opts.coords, "coords", "", "坐标文件 (.xlsx/.csv/.txt，本地路径或 s3://bucket/key)")
	cmd.Flags().StringVar(&opts.out, "out", "", "输出文件 (默认: BOM 同目录 <name>_normalized.xlsx)")
	cmd.Flags().StringVar(&opts.bomSheet, "bom-sheet", "", "BOM 工作表名称或序号 (默认自动识别)")
	cmd.Flags().StringVar(&opts.coordSheet, "coord-sheet", "", "坐标工作表名称或序号 (默认自动识别)")
	cmd.Flags().StringVar(&opts.template, "template", "", "输出模板 (默认使用配置或内置模板)")
	cmd.Flags().BoolVar(&opts.noJobLog, "no-job-log", false, "不写入任务记录")
	_ = cmd.MarkFlagRequired("bom")
	_ = cmd.MarkFlagRequired("coords")
	return cmd
}

func runConvert(cmd *cobra.Command, root *rootOptions, opts *convertOptions) error {
	ctx := cmd.Context()
	a, err := app.New(ctx, root.cfg, root.logger, app.Options{JobLog: !opts.noJobLog})
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	job := pipeline.Job{
		BOMPath:         opts.bom,
		CoordinatePath:  opts.coords,
		OutputPath:      opts.out,
		BOMSheet:        opts.bomSheet,
		CoordinateSheet: opts.coordSheet,
		TemplatePath:    opts.template,
	}

	progress := &convertProgress{w: out}
	rep, err := a.Coordinator.Execute(ctx, job, progress.handle)
	progress.finish()
	if rep != nil {
		printSummary(out, rep)
	}
	return err
}

// convertProgress 分类阶段显示进度条，其余事件逐行输出
type convertProgress struct {
	w   io.Writer
	bar *progressbar.ProgressBar
}

func (p *convertProgress) handle(e pipeline.ProgressEvent) {
	switch e.Type {
	case pipeline.EventRowClassified:
		data, ok := e.Data.(map[string]int)
		if !ok {
			return
		}
		if p.bar == nil {
			p.bar = progressbar.NewOptions(data["total"],
				progressbar.OptionSetWriter(p.w),
				progressbar.OptionShowCount(),
				progressbar.OptionSetWidth(40),
				progressbar.OptionSetDescription("分类"),
				progressbar.OptionOnCompletion(func() {
					fmt.Fprintln(p.w)
				}),
			)
		}
		_ = p.bar.Set(data["done"])
	case pipeline.EventState, pipeline.EventWarning:
		p.finish()
		fmt.Fprintf(p.w, "[%s] %s\n", e.State, e.Message)
	}
}

func (p *convertProgress) finish() {
	if p.bar != nil {
		_ = p.bar.Finish()
		p.bar = nil
	}
}

func printSummary(w io.Writer, rep *model.JobReport) {
	var b strings.Builder
	fmt.Fprintf(&b, "任务 %s: %s\n", rep.JobID, rep.State)
	if rep.OutputFile != "" && rep.State == model.StateDone {
		fmt.Fprintf(&b, "  输出: %s\n", rep.OutputFile)
	}
	fmt.Fprintf(&b, "  %d 行转换, %d 行失败, %d 行剔除 (共 %d 行, 外部调用 %d 次)\n",
		rep.ConvertedRows, rep.FailedRows, rep.DroppedRows, rep.TotalRows, rep.LLMCalls)
	for _, is := range rep.Issues {
		fmt.Fprintf(&b, "  第 %d 行 %s: %s\n", is.LineNumber, is.Kind, is.Reason)
	}
	if rep.Error != "" {
		fmt.Fprintf(&b, "  错误: %s\n", rep.Error)
	}
	fmt.Fprint(w, b.String())
}
