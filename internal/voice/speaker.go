package voice

import (
	"sync"

	"github.com/pkg/errors"
)

// Speaker 朗读开关：朗读中再次切换即停止
type Speaker struct {
	synth Synthesizer

	mu       sync.Mutex
	speaking bool
	gen      int
}

func NewSpeaker(synth Synthesizer) *Speaker {
	return &Speaker{synth: synth}
}

func (s *Speaker) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaking
}

// Toggle 未在朗读时开始朗读 text，否则停止；返回切换后的状态
func (s *Speaker) Toggle(text string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.speaking {
		s.stopLocked()
		return false, nil
	}

	done, err := s.synth.Speak(text)
	if err != nil {
		return false, errors.Wrap(err, "speaking")
	}
	s.gen++
	s.speaking = true

	gen := s.gen
	go func() {
		<-done
		s.mu.Lock()
		if s.gen == gen {
			s.speaking = false
		}
		s.mu.Unlock()
	}()
	return true, nil
}

func (s *Speaker) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.speaking {
		s.stopLocked()
	}
}

func (s *Speaker) stopLocked() {
	s.gen++
	s.speaking = false
	s.synth.Stop()
}
