package voice

import (
	"strings"
	"sync"
	"time"

	"chatdeck/internal/config"
	"chatdeck/pkg/logger"
)

const (
	MicStartFailedMessage   = "Failed to start microphone. Please try again or switch to Chat Mode."
	RecognitionErrorMessage = "Sorry, there was an error with speech recognition. Please try again."
)

// MicMode 麦克风模式：开启后持续录音，静音超时或得到最终结果时提交文本，
// 模式保持开启时在停止后自动重新录音。
type MicMode struct {
	mic        Microphone
	recognizer Recognizer
	submit     func(string)
	notify     func(string)

	threshold      float64
	silenceTimeout time.Duration
	pollInterval   time.Duration
	restartDelay   time.Duration
	now            func() time.Time
	afterFunc      func(time.Duration, func())

	mu         sync.Mutex
	on         bool
	recording  bool
	generation int
	meter      LevelMeter
	lastSound  time.Time
	transcript string
}

// NewMicMode submit 接收要提交的文本，notify 接收要以机器人身份显示的错误提示
func NewMicMode(cfg config.VoiceConfig, mic Microphone, recognizer Recognizer, submit, notify func(string)) *MicMode {
	m := &MicMode{
		mic:            mic,
		recognizer:     recognizer,
		submit:         submit,
		notify:         notify,
		threshold:      cfg.SilenceThreshold,
		silenceTimeout: cfg.SilenceTimeout,
		pollInterval:   cfg.PollInterval,
		restartDelay:   cfg.RestartDelay,
		now:            time.Now,
		afterFunc: func(d time.Duration, f func()) {
			time.AfterFunc(d, f)
		},
	}
	if m.silenceTimeout <= 0 {
		m.silenceTimeout = 3 * time.Second
	}
	if m.pollInterval <= 0 {
		m.pollInterval = 16 * time.Millisecond
	}
	if m.threshold <= 0 {
		m.threshold = 10
	}
	return m
}

func (m *MicMode) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.on
}

func (m *MicMode) Recording() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recording
}

// InputEnabled 麦克风模式下禁用文字输入
func (m *MicMode) InputEnabled() bool {
	return !m.Active()
}

// Transcript 当前录音的实时识别文本
func (m *MicMode) Transcript() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transcript
}

// Toggle 切换麦克风模式，返回切换后是否开启
func (m *MicMode) Toggle() bool {
	m.mu.Lock()
	if m.on {
		m.on = false
		if m.recording {
			m.stopLocked()
		}
		m.mu.Unlock()
		return false
	}

	m.on = true
	msg := m.startLocked()
	on := m.on
	m.mu.Unlock()

	m.emit(msg)
	return on
}

// Close 关闭麦克风模式并释放资源
func (m *MicMode) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.on = false
	if m.recording {
		m.stopLocked()
	}
}

func (m *MicMode) emit(msg string) {
	if msg != "" && m.notify != nil {
		m.notify(msg)
	}
}

// startLocked 打开麦克风并开始识别；失败时关闭模式并返回提示文本
func (m *MicMode) startLocked() string {
	meter, err := m.mic.Open()
	if err != nil {
		logger.Errorf("Failed to open microphone: %v", err)
		m.on = false
		return MicStartFailedMessage
	}

	events, err := m.recognizer.Start()
	if err != nil {
		logger.Errorf("Failed to start recognition: %v", err)
		meter.Close()
		m.on = false
		return MicStartFailedMessage
	}

	m.generation++
	m.recording = true
	m.meter = meter
	m.lastSound = m.now()
	m.transcript = ""

	gen := m.generation
	go m.listen(gen, events)
	go m.watchSilence(gen, meter)
	return ""
}

// stopLocked 停止录音并释放麦克风；模式仍开启时稍后重新录音
func (m *MicMode) stopLocked() {
	m.generation++
	m.recording = false

	if err := m.recognizer.Stop(); err != nil {
		logger.Warnf("Failed to stop recognition: %v", err)
	}
	if m.meter != nil {
		if err := m.meter.Close(); err != nil {
			logger.Warnf("Failed to close microphone: %v", err)
		}
		m.meter = nil
	}

	if m.on {
		m.afterFunc(m.restartDelay, m.restart)
	}
}

func (m *MicMode) restart() {
	m.mu.Lock()
	if !m.on || m.recording {
		m.mu.Unlock()
		return
	}
	msg := m.startLocked()
	m.mu.Unlock()

	m.emit(msg)
}

// finishLocked 结束本次录音，返回需要提交的文本
func (m *MicMode) finishLocked() string {
	text := strings.TrimSpace(m.transcript)
	m.stopLocked()
	return text
}

func (m *MicMode) listen(gen int, events <-chan Event) {
	for ev := range events {
		m.mu.Lock()
		if gen != m.generation || !m.recording {
			m.mu.Unlock()
			continue
		}

		if ev.Err != nil {
			logger.Errorf("Speech recognition error: %v", ev.Err)
			m.on = false
			m.stopLocked()
			m.mu.Unlock()
			m.emit(RecognitionErrorMessage)
			continue
		}

		m.transcript = ev.Transcript
		if !ev.Final {
			m.mu.Unlock()
			continue
		}

		text := m.finishLocked()
		m.mu.Unlock()
		if text != "" && m.submit != nil {
			m.submit(text)
		}
	}

	// 录音中识别意外结束时重新开始识别
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.generation || !m.recording {
		return
	}
	next, err := m.recognizer.Start()
	if err != nil {
		logger.Errorf("Failed to restart recognition: %v", err)
		m.on = false
		m.stopLocked()
		go m.emit(MicStartFailedMessage)
		return
	}
	go m.listen(gen, next)
}

func (m *MicMode) watchSilence(gen int, meter LevelMeter) {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for range ticker.C {
		m.mu.Lock()
		if gen != m.generation || !m.recording {
			m.mu.Unlock()
			return
		}

		now := m.now()
		if meter.Level() > m.threshold {
			m.lastSound = now
		}
		if now.Sub(m.lastSound) <= m.silenceTimeout {
			m.mu.Unlock()
			continue
		}

		text := m.finishLocked()
		m.mu.Unlock()
		if text != "" && m.submit != nil {
			m.submit(text)
		}
		return
	}
}
