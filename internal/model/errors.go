package model

import (
	"errors"
	"fmt"
	"strings"
)

// 外部补全服务错误分类
var (
	ErrRateLimited       = errors.New("rate limited")
	ErrTimeout           = errors.New("timeout")
	ErrMalformedResponse = errors.New("malformed response")
	ErrServiceStatus     = errors.New("unexpected service status")
)

// FileFormatError 文件无法按表格解析（致命）
type FileFormatError struct {
	Path string
	Err  error
}

func (e *FileFormatError) Error() string {
	return fmt.Sprintf("file %q is not a readable spreadsheet: %v", e.Path, e.Err)
}

func (e *FileFormatError) Unwrap() error { return e.Err }

// SheetNotFoundError 请求的工作表不存在（致命）
type SheetNotFoundError struct {
	Path     string
	Selector string
}

func (e *SheetNotFoundError) Error() string {
	return fmt.Sprintf("sheet %q not found in %q", e.Selector, e.Path)
}

// TemplateMismatchError 模板缺少预期表头/命名单元格（致命，写出前检查）
type TemplateMismatchError struct {
	Missing []string
}

func (e *TemplateMismatchError) Error() string {
	return "template mismatch, missing: " + strings.Join(e.Missing, ", ")
}

// ExternalServiceError 外部补全服务调用失败，可重试
type ExternalServiceError struct {
	Kind       error
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *ExternalServiceError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("external service (%v, status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("external service (%v): %v", e.Kind, e.Err)
}

// Unwrap 同时暴露错误类别与底层错误，便于 errors.Is 判断
func (e *ExternalServiceError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// NewServiceError 构造外部服务错误，限流/超时/格式错误默认可重试
func NewServiceError(kind error, statusCode int, err error) *ExternalServiceError {
	retryable := true
	if errors.Is(kind, ErrServiceStatus) {
		retryable = statusCode == 0 || statusCode >= 500 || statusCode == 408
	}
	return &ExternalServiceError{
		Kind:       kind,
		StatusCode: statusCode,
		Retryable:  retryable,
		Err:        err,
	}
}

// IsFatal 判断是否为需要中止整个任务的错误
func IsFatal(err error) bool {
	var ff *FileFormatError
	var sn *SheetNotFoundError
	var tm *TemplateMismatchError
	return errors.As(err, &ff) || errors.As(err, &sn) || errors.As(err, &tm)
}
