package streaming

import (
	"math/rand/v2"
	"strings"
	"time"

	"chatdeck/internal/config"
)

const (
	DefaultMinDelay = 10 * time.Millisecond
	DefaultMaxDelay = 40 * time.Millisecond
)

type Simulator struct {
	minDelay time.Duration
	maxDelay time.Duration
	sleep    func(time.Duration)
	random   func() float64
}

func New(cfg config.StreamConfig) *Simulator {
	s := &Simulator{
		minDelay: cfg.MinDelay,
		maxDelay: cfg.MaxDelay,
		sleep:    time.Sleep,
		random:   rand.Float64,
	}
	if s.minDelay <= 0 && s.maxDelay <= 0 {
		s.minDelay, s.maxDelay = DefaultMinDelay, DefaultMaxDelay
	}
	if s.maxDelay < s.minDelay {
		s.maxDelay = s.minDelay
	}
	return s
}

func (s *Simulator) delay() time.Duration {
	return s.minDelay + time.Duration(s.random()*float64(s.maxDelay-s.minDelay))
}

// Run 按单个空格切分，每追加一个词调用一次 display，词之间随机等待。
// 不可取消，返回值与 response 完全相同。
func (s *Simulator) Run(response string, display func(string)) string {
	words := strings.Split(response, " ")

	var current strings.Builder
	for i, word := range words {
		if i > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(word)
		if display != nil {
			display(current.String())
		}
		s.sleep(s.delay())
	}
	return current.String()
}
