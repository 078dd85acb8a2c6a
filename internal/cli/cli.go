package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/chzyer/readline"
	"github.com/fatih/color"
)

var (
	userColor    = color.New(color.Bold)
	botColor     = color.New(color.FgCyan)
	noticeColor  = color.New(color.FgHiBlack)
	errorColor   = color.New(color.FgRed)
	titleColor   = color.New(color.FgMagenta, color.Bold)
	successColor = color.New(color.FgGreen)
	promptColor  = color.New(color.FgHiBlue)
)

// Out 命令输出目标，测试时可替换
var Out io.Writer = os.Stdout

func Title(text string, args ...any) {
	titleColor.Fprintf(Out, "== %s ==\n", fmt.Sprintf(text, args...))
}

func User(text string) {
	userColor.Fprintf(Out, "You: %s\n", text)
}

// Bot 打印机器人消息，content 已经渲染过
func Bot(content string) {
	botColor.Fprint(Out, "Bot: ")
	fmt.Fprintln(Out, content)
}

func Notice(text string, args ...any) {
	noticeColor.Fprintf(Out, text+"\n", args...)
}

func Success(text string, args ...any) {
	successColor.Fprintf(Out, text+"\n", args...)
}

func Error(text string, args ...any) {
	errorColor.Fprintf(Out, text+"\n", args...)
}

// Stream 在终端上展示逐词增长的回复：已完成的行固定输出一次，
// 最后一行用回车原地刷新。End 会擦掉整段草稿，方便随后输出渲染后的回复。
type Stream struct {
	// Width 终端宽度，用于估算长行折行后占用的行数；<=0 表示不折行
	Width int

	pinned []string
}

func (s *Stream) Update(partial string) {
	lines := strings.Split(partial, "\n")
	for len(s.pinned) < len(lines)-1 {
		line := lines[len(s.pinned)]
		fmt.Fprintf(Out, "\r\033[K%s\n", line)
		s.pinned = append(s.pinned, line)
	}
	fmt.Fprintf(Out, "\r\033[K%s", lines[len(lines)-1])
}

func (s *Stream) End() {
	rows := 0
	for _, line := range s.pinned {
		rows += s.rows(line)
	}
	if rows > 0 {
		fmt.Fprintf(Out, "\033[%dA", rows)
	}
	fmt.Fprint(Out, "\r\033[J")
	s.pinned = nil
}

func (s *Stream) rows(line string) int {
	n := utf8.RuneCountInString(line)
	if s.Width <= 0 || n <= s.Width {
		return 1
	}
	return (n + s.Width - 1) / s.Width
}

// Prompt 交互式输入，带历史记录
type Prompt struct {
	rl *readline.Instance
}

func NewPrompt(historyFile string) (*Prompt, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:            promptColor.Sprint("> "),
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistoryFile:       historyFile,
		HistorySearchFold: true,
	})
	if err != nil {
		return nil, err
	}
	return &Prompt{rl: rl}, nil
}

// ReadLine 返回 readline.ErrInterrupt（Ctrl-C）或 io.EOF（Ctrl-D）
func (p *Prompt) ReadLine() (string, error) {
	return p.rl.Readline()
}

func (p *Prompt) SetPrompt(prompt string) {
	p.rl.SetPrompt(promptColor.Sprint(prompt))
}

func (p *Prompt) Close() error {
	return p.rl.Close()
}
