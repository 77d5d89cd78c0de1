package services

import (
	"fmt"
	"strings"

	"github.com/fyerfyer/pdf-QA-system/internal/vectordb"
)

// RecordStatus 单条记录的处理结果
type RecordStatus string

const (
	StatusInserted RecordStatus = "inserted"
	StatusSkipped  RecordStatus = "skipped"
	StatusFailed   RecordStatus = "failed"
)

// MsgNoFiles 没有收到任何文件
const MsgNoFiles = "❌ Hiçbir dosya yüklenmedi."

// ReportLine 一条处理记录
type ReportLine struct {
	RecordID string              `json:"record_id"`
	Type     vectordb.RecordType `json:"type"`
	Status   RecordStatus        `json:"status"`
	Message  string              `json:"message"`
}

// FileReport 单个PDF的处理报告
type FileReport struct {
	FileID    string       `json:"file_id"`
	FileName  string       `json:"file_name"`
	Pages     int          `json:"pages"`
	Lines     []ReportLine `json:"lines"`
	Summary   string       `json:"summary"` // 文件级别的状态行
	Inserted  int          `json:"inserted"`
	Skipped   int          `json:"skipped"`
	Failed    int          `json:"failed"`
	Duplicate bool         `json:"duplicate"` // 整份文件已处理过
	Error     string       `json:"error,omitempty"`
}

// Count 统计某种状态和类型的记录数
func (r *FileReport) Count(status RecordStatus, typ vectordb.RecordType) int {
	n := 0
	for _, l := range r.Lines {
		if l.Status == status && l.Type == typ {
			n++
		}
	}
	return n
}

func (r *FileReport) add(id string, typ vectordb.RecordType, status RecordStatus, detail string) {
	r.Lines = append(r.Lines, ReportLine{
		RecordID: id,
		Type:     typ,
		Status:   status,
		Message:  statusMessage(id, typ, status, detail),
	})
	switch status {
	case StatusInserted:
		r.Inserted++
	case StatusSkipped:
		r.Skipped++
	case StatusFailed:
		r.Failed++
	}
}

// Messages 所有状态行，文件级别状态在最后
func (r *FileReport) Messages() []string {
	msgs := make([]string, 0, len(r.Lines)+1)
	for _, l := range r.Lines {
		msgs = append(msgs, l.Message)
	}
	if r.Summary != "" {
		msgs = append(msgs, r.Summary)
	}
	return msgs
}

// statusMessage 生成界面上显示的土耳其语状态行
func statusMessage(id string, typ vectordb.RecordType, status RecordStatus, detail string) string {
	switch status {
	case StatusFailed:
		return fmt.Sprintf("❌ %s - hata: %s", id, detail)
	case StatusSkipped:
		switch typ {
		case vectordb.TypeImage:
			return fmt.Sprintf("⏭️ %s - görsel zaten var.", id)
		case vectordb.TypeRenderedPage:
			return fmt.Sprintf("⏭️ %s - render zaten var.", id)
		default:
			return fmt.Sprintf("⏭️ %s - zaten yüklü.", id)
		}
	default:
		switch typ {
		case vectordb.TypeImage:
			return fmt.Sprintf("✅ %s - görsel yüklendi.", id)
		case vectordb.TypeRenderedPage:
			return fmt.Sprintf("✅ %s - render kaydedildi.", id)
		case vectordb.TypeFile:
			return fmt.Sprintf("✅ %s - dosya kaydedildi.", id)
		default:
			return fmt.Sprintf("✅ %s - metin yüklendi.", id)
		}
	}
}

// Report 一次导入的全部结果
type Report struct {
	Files []*FileReport `json:"files"`
}

// Totals 汇总写入、跳过和失败数
func (r *Report) Totals() (inserted, skipped, failed int) {
	for _, f := range r.Files {
		inserted += f.Inserted
		skipped += f.Skipped
		failed += f.Failed
	}
	return
}

// String 按行拼接所有状态，没有文件时返回提示
func (r *Report) String() string {
	if r == nil || len(r.Files) == 0 {
		return MsgNoFiles
	}
	var lines []string
	for _, f := range r.Files {
		lines = append(lines, f.Messages()...)
	}
	return strings.Join(lines, "\n")
}
