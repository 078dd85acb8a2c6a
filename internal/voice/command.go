package voice

import (
	"bufio"
	"encoding/json"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"chatdeck/pkg/logger"
)

func newCommand(args []string) (*exec.Cmd, error) {
	if len(args) == 0 || args[0] == "" {
		return nil, errors.New("no command configured")
	}
	return exec.Command(args[0], args[1:]...), nil
}

func killCommand(cmd *exec.Cmd) {
	if cmd != nil && cmd.Process != nil {
		cmd.Process.Kill()
	}
}

// CommandMicrophone 从采集命令（如 arecord）的标准输出读取 16 位 PCM
type CommandMicrophone struct {
	Command []string
	FFTSize int
}

type commandMeter struct {
	*PCMMeter
	cmd  *exec.Cmd
	once sync.Once
	done chan struct{}
}

func (m *CommandMicrophone) Open() (LevelMeter, error) {
	cmd, err := newCommand(m.Command)
	if err != nil {
		return nil, errors.Wrap(err, "capture")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "capture stdout")
	}
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "starting %s", m.Command[0])
	}

	meter := &commandMeter{
		PCMMeter: NewPCMMeter(m.FFTSize),
		cmd:      cmd,
		done:     make(chan struct{}),
	}
	go func() {
		defer close(meter.done)
		if _, err := io.Copy(meter.PCMMeter, stdout); err != nil {
			logger.Debugf("capture stream ended: %v", err)
		}
		cmd.Wait()
	}()
	return meter, nil
}

func (m *commandMeter) Close() error {
	m.once.Do(func() {
		killCommand(m.cmd)
	})
	<-m.done
	return nil
}

// CommandRecognizer 运行识别命令，按行读取 vosk 风格的 JSON：
// {"partial": "..."} 为中间结果，{"text": "..."} 为最终结果；非 JSON 行视为最终结果。
type CommandRecognizer struct {
	Command []string

	mu  sync.Mutex
	run *recognitionRun
}

type recognitionRun struct {
	cmd     *exec.Cmd
	stopped bool
}

type recognizerLine struct {
	Partial *string `json:"partial"`
	Text    *string `json:"text"`
}

// ParseRecognizerLine 把一行输出转换为识别结果，ok 为 false 表示应忽略
func ParseRecognizerLine(line string) (Result, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Result{}, false
	}

	var parsed recognizerLine
	if err := json.Unmarshal([]byte(line), &parsed); err != nil {
		return Result{Transcript: line, Final: true}, true
	}
	switch {
	case parsed.Text != nil:
		if *parsed.Text == "" {
			return Result{}, false
		}
		return Result{Transcript: *parsed.Text, Final: true}, true
	case parsed.Partial != nil:
		return Result{Transcript: *parsed.Partial}, true
	}
	return Result{}, false
}

func (r *CommandRecognizer) Start() (<-chan Event, error) {
	cmd, err := newCommand(r.Command)
	if err != nil {
		return nil, errors.Wrap(err, "recognizer")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "recognizer stdout")
	}
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "starting %s", r.Command[0])
	}

	run := &recognitionRun{cmd: cmd}
	r.mu.Lock()
	r.run = run
	r.mu.Unlock()

	events := make(chan Event, 16)
	go func() {
		defer close(events)

		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			if res, ok := ParseRecognizerLine(scanner.Text()); ok {
				events <- Event{Result: res}
			}
		}

		err := cmd.Wait()
		r.mu.Lock()
		stopped := run.stopped
		r.mu.Unlock()
		if err != nil && !stopped {
			events <- Event{Err: errors.Wrap(err, "recognizer exited")}
		}
	}()
	return events, nil
}

func (r *CommandRecognizer) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.run == nil {
		return nil
	}
	r.run.stopped = true
	killCommand(r.run.cmd)
	r.run = nil
	return nil
}

// CommandSynthesizer 把文本写入 TTS 命令（如 espeak --stdin）的标准输入
type CommandSynthesizer struct {
	Command []string

	mu  sync.Mutex
	cmd *exec.Cmd
}

func (s *CommandSynthesizer) Speak(text string) (<-chan struct{}, error) {
	cmd, err := newCommand(s.Command)
	if err != nil {
		return nil, errors.Wrap(err, "synthesizer")
	}
	cmd.Stdin = strings.NewReader(text)
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "starting %s", s.Command[0])
	}

	s.mu.Lock()
	s.cmd = cmd
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		cmd.Wait()
		s.mu.Lock()
		if s.cmd == cmd {
			s.cmd = nil
		}
		s.mu.Unlock()
	}()
	return done, nil
}

func (s *CommandSynthesizer) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	killCommand(s.cmd)
	s.cmd = nil
	return nil
}
