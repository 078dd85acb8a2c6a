package export

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/pkg/errors"

	"chatdeck/internal/session"
)

const (
	ChatPDFFile      = "chat-history.pdf"
	ChatMarkdownFile = "chat-history.md"
	PlaygroundBase   = "ai-playground-output"

	// TimestampLayout 与 en-US 的 toLocaleString 输出一致
	TimestampLayout = "1/2/2006, 3:04:05 PM"

	pdfMargin      = 20.0
	pdfTitleSize   = 20.0
	pdfBodySize    = 12.0
	pdfLineStep    = 7.0
	pdfTitleGap    = 10.0
	pdfMessageGap  = 10.0
	pdfDefaultFont = "Helvetica"
)

// pdfCompress 测试中关闭压缩以便检查内容流
var pdfCompress = true

func sender(m session.Message) string {
	if m.IsUser {
		return "You"
	}
	return "Bot"
}

func header(m session.Message) string {
	return sender(m) + " - " + m.Timestamp.Local().Format(TimestampLayout)
}

// Markdown 每条消息一个二级标题，消息之间用分隔线
func Markdown(messages []session.Message) []byte {
	var b strings.Builder
	b.WriteString("# Chat History\n\n")
	for _, m := range messages {
		b.WriteString("## ")
		b.WriteString(header(m))
		b.WriteString("\n\n")
		b.WriteString(m.Content)
		b.WriteString("\n\n---\n\n")
	}
	return []byte(b.String())
}

// latin1 核心字体只有 256 个字形，超出范围的字符替换为 '?'
func latin1(s string) string {
	return strings.Map(func(r rune) rune {
		if r > 0xff {
			return '?'
		}
		return r
	}, s)
}

// PDF A4 纵向，正文按页宽折行，超出页面底边距时换页
func PDF(messages []session.Message) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCompression(pdfCompress)
	pdf.SetMargins(pdfMargin, pdfMargin, pdfMargin)
	pdf.SetAutoPageBreak(false, pdfMargin)
	pdf.SetCellMargin(0)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pageWidth, pageHeight := pdf.GetPageSize()
	maxWidth := pageWidth - 2*pdfMargin

	pdf.AddPage()
	y := pdfMargin

	pdf.SetFont(pdfDefaultFont, "", pdfTitleSize)
	pdf.Text(pdfMargin, y, "Chat History")
	y += pdfTitleGap

	// 标题行和正文行都不能越过底边距
	breakIfFull := func() {
		if y > pageHeight-pdfMargin {
			pdf.AddPage()
			y = pdfMargin
		}
	}

	pdf.SetFont(pdfDefaultFont, "", pdfBodySize)
	for _, m := range messages {
		breakIfFull()
		pdf.Text(pdfMargin, y, tr(latin1(header(m))))
		y += pdfLineStep

		for _, line := range pdf.SplitText(latin1(m.Content), maxWidth) {
			breakIfFull()
			pdf.Text(pdfMargin, y, tr(line))
			y += pdfLineStep
		}
		y += pdfMessageGap
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, errors.Wrap(err, "rendering pdf")
	}
	return buf.Bytes(), nil
}

// PlaygroundRecord 导出 json 时的字段，顺序与原页面一致
type PlaygroundRecord struct {
	Task      string `json:"task"`
	Model     string `json:"model"`
	Input     string `json:"input"`
	Output    string `json:"output"`
	Timestamp string `json:"timestamp"`
}

// Playground 按格式（txt / md / json）生成文件名和内容
func Playground(format string, rec PlaygroundRecord, now time.Time) (string, []byte, error) {
	filename := PlaygroundBase + "." + format
	switch format {
	case "txt":
		return filename, []byte(StripMarkdown(rec.Output)), nil
	case "md":
		return filename, []byte(rec.Output), nil
	case "json":
		rec.Timestamp = now.UTC().Format("2006-01-02T15:04:05.000Z")
		data, err := json.MarshalIndent(rec, "", "  ")
		if err != nil {
			return "", nil, errors.Wrap(err, "marshaling playground output")
		}
		return filename, data, nil
	default:
		return "", nil, errors.Errorf("unsupported format %q", format)
	}
}

// Download 把内容原子地写入 dir/filename，返回最终路径
func Download(dir, filename string, content []byte) (string, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrap(err, "creating export directory")
	}

	path := filepath.Join(dir, filepath.Base(filename))
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(filename)+".*.tmp")
	if err != nil {
		return "", errors.Wrap(err, "creating temp file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return "", errors.Wrap(err, "writing export")
	}
	if err := tmp.Close(); err != nil {
		return "", errors.Wrap(err, "closing export")
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return "", errors.Wrap(err, "setting export permissions")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", errors.Wrap(err, "moving export into place")
	}
	return path, nil
}
