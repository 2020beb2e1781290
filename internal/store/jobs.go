package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"bomflow/internal/model"
)

// ErrJobNotFound 任务不存在
var ErrJobNotFound = errors.New("job not found")

// CreateJob 登记新任务
func (s *Store) CreateJob(r model.JobReport) error {
	_, err := s.db.Exec(`
		INSERT INTO jobs (id, bom_file, coordinate_file, output_file, state, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, r.JobID, r.BOMFile, r.CoordinateFile, r.OutputFile, string(r.State), r.StartedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// CompleteJob 写入任务结果及行级问题（同一事务）
func (s *Store) CompleteJob(r model.JobReport) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.Exec(`
		UPDATE jobs SET
			output_file = ?,
			state = ?,
			total_rows = ?,
			converted_rows = ?,
			failed_rows = ?,
			dropped_rows = ?,
			total_quantity = ?,
			llm_calls = ?,
			error_message = ?,
			duration_ms = ?,
			completed_at = ?
		WHERE id = ?
	`, r.OutputFile, string(r.State), r.TotalRows, r.ConvertedRows, r.FailedRows, r.DroppedRows,
		r.TotalQuantity, r.LLMCalls, r.Error, r.Duration.Milliseconds(), time.Now().UTC(), r.JobID)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrJobNotFound, r.JobID)
	}

	if _, err := tx.Exec(`DELETE FROM job_issues WHERE job_id = ?`, r.JobID); err != nil {
		return fmt.Errorf("failed to clear job issues: %w", err)
	}
	if len(r.Issues) > 0 {
		stmt, err := tx.Prepare(`INSERT INTO job_issues (job_id, line_number, kind, reason) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare issue insert: %w", err)
		}
		defer stmt.Close()
		for _, is := range r.Issues {
			if _, err := stmt.Exec(r.JobID, is.LineNumber, string(is.Kind), is.Reason); err != nil {
				return fmt.Errorf("failed to insert job issue: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit job: %w", err)
	}
	return nil
}

const jobColumns = `id, bom_file, coordinate_file, output_file, state, total_rows, converted_rows,
	failed_rows, dropped_rows, total_quantity, llm_calls, error_message, started_at, duration_ms`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(sc rowScanner) (model.JobReport, error) {
	var (
		r          model.JobReport
		state      string
		durationMs int64
	)
	err := sc.Scan(&r.JobID, &r.BOMFile, &r.CoordinateFile, &r.OutputFile, &state, &r.TotalRows,
		&r.ConvertedRows, &r.FailedRows, &r.DroppedRows, &r.TotalQuantity, &r.LLMCalls, &r.Error,
		&r.StartedAt, &durationMs)
	if err != nil {
		return r, err
	}
	r.State = model.JobState(state)
	r.Duration = time.Duration(durationMs) * time.Millisecond
	return r, nil
}

// GetJob 查询任务详情（含行级问题）
func (s *Store) GetJob(id string) (*model.JobReport, error) {
	r, err := scanJob(s.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
		}
		return nil, fmt.Errorf("failed to query job: %w", err)
	}

	rows, err := s.db.Query(`
		SELECT line_number, kind, reason FROM job_issues
		WHERE job_id = ? ORDER BY id
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query job issues: %w", err)
	}
	defer rows.Close()

	r.Issues = make([]model.RowIssue, 0)
	for rows.Next() {
		var is model.RowIssue
		var kind string
		if err := rows.Scan(&is.LineNumber, &kind, &is.Reason); err != nil {
			return nil, fmt.Errorf("failed to scan job issue: %w", err)
		}
		is.Kind = model.IssueKind(kind)
		r.Issues = append(r.Issues, is)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &r, nil
}

// ListJobs 按开始时间倒序列出最近的任务（不含行级问题）
func (s *Store) ListJobs(limit int) ([]model.JobReport, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`SELECT `+jobColumns+` FROM jobs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	out := make([]model.JobReport, 0)
	for rows.Next() {
		r, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteJobsBefore 清理早于指定时间的任务记录，返回删除条数
func (s *Store) DeleteJobsBefore(t time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM jobs WHERE started_at < ?`, t.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete jobs: %w", err)
	}
	return res.RowsAffected()
}
