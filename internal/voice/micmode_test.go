package voice

import (
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatdeck/internal/config"
)

type fakeMeter struct {
	mu     sync.Mutex
	level  float64
	closed bool
}

func (m *fakeMeter) Level() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}

func (m *fakeMeter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *fakeMeter) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

type fakeMic struct {
	mu     sync.Mutex
	err    error
	meters []*fakeMeter
	level  float64
}

func (f *fakeMic) Open() (LevelMeter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	m := &fakeMeter{level: f.level}
	f.meters = append(f.meters, m)
	return m, nil
}

func (f *fakeMic) opened() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.meters)
}

type fakeRecognizer struct {
	mu      sync.Mutex
	err     error
	current chan Event
	starts  int
	stops   int

	// keepOpen 为 true 时 Stop 不关闭通道，模拟停止后仍送达的迟到结果
	keepOpen bool
	chans    []chan Event
}

func (f *fakeRecognizer) Start() (<-chan Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.starts++
	f.current = make(chan Event, 8)
	f.chans = append(f.chans, f.current)
	return f.current, nil
}

func (f *fakeRecognizer) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	if f.current != nil && !f.keepOpen {
		close(f.current)
	}
	f.current = nil
	return nil
}

// sendTo 向第 i 次 Start 返回的通道发送事件
func (f *fakeRecognizer) sendTo(i int, ev Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chans[i] <- ev
}

// closeAll keepOpen 模式下结束所有通道
func (f *fakeRecognizer) closeAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.chans {
		close(ch)
	}
	f.chans = nil
}

// send 向当前识别通道发送事件
func (f *fakeRecognizer) send(ev Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current != nil {
		f.current <- ev
	}
}

// end 模拟识别器自行结束
func (f *fakeRecognizer) end() {
	f.Stop()
	f.mu.Lock()
	f.stops--
	f.mu.Unlock()
}

func (f *fakeRecognizer) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

type recorder struct {
	mu        sync.Mutex
	submitted []string
	notices   []string
}

func (r *recorder) submit(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.submitted = append(r.submitted, s)
}

func (r *recorder) notify(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, s)
}

func (r *recorder) snapshot() ([]string, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.submitted...), append([]string(nil), r.notices...)
}

func testVoiceConfig() config.VoiceConfig {
	return config.VoiceConfig{
		SilenceThreshold: 10,
		SilenceTimeout:   50 * time.Millisecond,
		PollInterval:     2 * time.Millisecond,
		RestartDelay:     time.Hour,
	}
}

func newTestMicMode(mic *fakeMic, rec *fakeRecognizer) (*MicMode, *recorder) {
	r := &recorder{}
	m := NewMicMode(testVoiceConfig(), mic, rec, r.submit, r.notify)
	return m, r
}

func TestToggle_OnOffReleasesResources(t *testing.T) {
	mic := &fakeMic{level: 50}
	rec := &fakeRecognizer{}
	m, _ := newTestMicMode(mic, rec)

	assert.True(t, m.InputEnabled())
	require.True(t, m.Toggle())
	assert.True(t, m.Active())
	assert.True(t, m.Recording())
	assert.False(t, m.InputEnabled())

	assert.False(t, m.Toggle())
	assert.False(t, m.Active())
	assert.False(t, m.Recording())
	assert.True(t, m.InputEnabled())
	assert.True(t, mic.meters[0].isClosed())
}

func TestToggle_MicFailure(t *testing.T) {
	mic := &fakeMic{err: errors.New("permission denied")}
	m, r := newTestMicMode(mic, &fakeRecognizer{})

	assert.False(t, m.Toggle())
	assert.False(t, m.Active())
	_, notices := r.snapshot()
	assert.Equal(t, []string{MicStartFailedMessage}, notices)
}

func TestToggle_RecognizerFailureClosesMic(t *testing.T) {
	mic := &fakeMic{}
	m, r := newTestMicMode(mic, &fakeRecognizer{err: errors.New("no engine")})

	assert.False(t, m.Toggle())
	assert.True(t, mic.meters[0].isClosed())
	_, notices := r.snapshot()
	assert.Equal(t, []string{MicStartFailedMessage}, notices)
}

func TestFinalResultSubmits(t *testing.T) {
	mic := &fakeMic{level: 50}
	rec := &fakeRecognizer{}
	m, r := newTestMicMode(mic, rec)
	require.True(t, m.Toggle())

	rec.send(Event{Result: Result{Transcript: "hello"}})
	require.Eventually(t, func() bool { return m.Transcript() == "hello" }, time.Second, time.Millisecond)

	rec.send(Event{Result: Result{Transcript: "hello world", Final: true}})
	require.Eventually(t, func() bool {
		submitted, _ := r.snapshot()
		return len(submitted) == 1
	}, time.Second, time.Millisecond)

	submitted, _ := r.snapshot()
	assert.Equal(t, []string{"hello world"}, submitted)
	assert.False(t, m.Recording())
	assert.True(t, m.Active(), "mic mode stays on after a submission")
}

func TestSilenceStopsAndSubmits(t *testing.T) {
	mic := &fakeMic{level: 0}
	rec := &fakeRecognizer{}
	m, r := newTestMicMode(mic, rec)
	require.True(t, m.Toggle())

	rec.send(Event{Result: Result{Transcript: "quiet words"}})

	require.Eventually(t, func() bool { return !m.Recording() }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		submitted, _ := r.snapshot()
		return len(submitted) == 1
	}, time.Second, time.Millisecond)
	submitted, _ := r.snapshot()
	assert.Equal(t, []string{"quiet words"}, submitted)
	assert.True(t, mic.meters[0].isClosed())
}

func TestSilenceWithoutTranscriptSubmitsNothing(t *testing.T) {
	mic := &fakeMic{level: 0}
	m, r := newTestMicMode(mic, &fakeRecognizer{})
	require.True(t, m.Toggle())

	require.Eventually(t, func() bool { return !m.Recording() }, time.Second, time.Millisecond)
	submitted, _ := r.snapshot()
	assert.Empty(t, submitted)
}

func TestSoundKeepsRecording(t *testing.T) {
	mic := &fakeMic{level: 11}
	m, _ := newTestMicMode(mic, &fakeRecognizer{})
	require.True(t, m.Toggle())

	time.Sleep(150 * time.Millisecond)
	assert.True(t, m.Recording())
	m.Close()
}

func TestRecognitionErrorTurnsModeOff(t *testing.T) {
	rec := &fakeRecognizer{}
	m, r := newTestMicMode(&fakeMic{level: 50}, rec)
	require.True(t, m.Toggle())

	rec.send(Event{Err: errors.New("network")})

	require.Eventually(t, func() bool { return !m.Active() }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		_, notices := r.snapshot()
		return len(notices) == 1
	}, time.Second, time.Millisecond)
	_, notices := r.snapshot()
	assert.Equal(t, RecognitionErrorMessage, notices[0])
	assert.False(t, m.Recording())
}

func TestUnexpectedEndRestartsRecognition(t *testing.T) {
	rec := &fakeRecognizer{}
	m, _ := newTestMicMode(&fakeMic{level: 50}, rec)
	require.True(t, m.Toggle())
	require.Equal(t, 1, rec.startCount())

	rec.end()

	require.Eventually(t, func() bool { return rec.startCount() == 2 }, time.Second, time.Millisecond)
	assert.True(t, m.Recording())
	m.Close()
}

func TestRestartAfterStopWhileModeOn(t *testing.T) {
	mic := &fakeMic{level: 50}
	rec := &fakeRecognizer{}
	m, _ := newTestMicMode(mic, rec)

	var restart func()
	var delay time.Duration
	var mu sync.Mutex
	m.afterFunc = func(d time.Duration, f func()) {
		mu.Lock()
		defer mu.Unlock()
		delay, restart = d, f
	}
	m.restartDelay = 500 * time.Millisecond

	require.True(t, m.Toggle())
	rec.send(Event{Result: Result{Transcript: "go", Final: true}})
	require.Eventually(t, func() bool { return !m.Recording() }, time.Second, time.Millisecond)

	mu.Lock()
	f := restart
	assert.Equal(t, 500*time.Millisecond, delay)
	mu.Unlock()
	require.NotNil(t, f)

	f()
	assert.True(t, m.Recording())
	assert.Equal(t, 2, mic.opened())
	m.Close()
}

func TestRestartSkippedAfterModeOff(t *testing.T) {
	mic := &fakeMic{level: 50}
	rec := &fakeRecognizer{}
	m, _ := newTestMicMode(mic, rec)

	var restart func()
	var mu sync.Mutex
	m.afterFunc = func(_ time.Duration, f func()) {
		mu.Lock()
		restart = f
		mu.Unlock()
	}

	require.True(t, m.Toggle())
	rec.send(Event{Result: Result{Transcript: "go", Final: true}})
	require.Eventually(t, func() bool { return !m.Recording() }, time.Second, time.Millisecond)
	m.Toggle()

	mu.Lock()
	f := restart
	mu.Unlock()
	require.NotNil(t, f)
	f()
	assert.False(t, m.Recording())
	assert.Equal(t, 1, mic.opened())
}

func TestPCMMeter(t *testing.T) {
	silent := NewPCMMeter(1024)
	silent.Write(make([]byte, 2048))
	assert.Equal(t, 0.0, silent.Level())

	noisy := NewPCMMeter(1024)
	rng := rand.New(rand.NewPCG(1, 2))
	buf := make([]byte, 2048)
	for i := 0; i < len(buf); i += 2 {
		v := int16(rng.IntN(32768) - 16384)
		buf[i] = byte(v)
		buf[i+1] = byte(uint16(v) >> 8)
	}
	n, err := noisy.Write(buf)
	require.NoError(t, err)
	assert.Equal(t, len(buf), n)

	level := noisy.Level()
	assert.Greater(t, level, 10.0)
	assert.LessOrEqual(t, level, 255.0)
}

func TestPCMMeter_InvalidSizeFallsBack(t *testing.T) {
	m := NewPCMMeter(1000)
	assert.Equal(t, DefaultFFTSize, m.size)
}

func TestFFT_Impulse(t *testing.T) {
	a := make([]complex128, 8)
	a[0] = 1
	fft(a)
	for _, v := range a {
		assert.InDelta(t, 1.0, real(v), 1e-9)
		assert.InDelta(t, 0.0, imag(v), 1e-9)
	}
}

func TestParseRecognizerLine(t *testing.T) {
	res, ok := ParseRecognizerLine(`{"partial": "hel"}`)
	require.True(t, ok)
	assert.Equal(t, Result{Transcript: "hel"}, res)

	res, ok = ParseRecognizerLine(`{"text": "hello"}`)
	require.True(t, ok)
	assert.Equal(t, Result{Transcript: "hello", Final: true}, res)

	_, ok = ParseRecognizerLine(`{"text": ""}`)
	assert.False(t, ok)

	res, ok = ParseRecognizerLine("plain words")
	require.True(t, ok)
	assert.True(t, res.Final)

	_, ok = ParseRecognizerLine("   ")
	assert.False(t, ok)
}

func TestStaleResultAfterRestartIsDropped(t *testing.T) {
	mic := &fakeMic{level: 50}
	rec := &fakeRecognizer{keepOpen: true}
	m, r := newTestMicMode(mic, rec)
	defer rec.closeAll()

	var restart func()
	var mu sync.Mutex
	m.afterFunc = func(_ time.Duration, f func()) {
		mu.Lock()
		restart = f
		mu.Unlock()
	}

	require.True(t, m.Toggle())
	rec.sendTo(0, Event{Result: Result{Transcript: "first", Final: true}})
	require.Eventually(t, func() bool { return !m.Recording() }, time.Second, time.Millisecond)

	mu.Lock()
	f := restart
	mu.Unlock()
	require.NotNil(t, f)
	f()
	require.True(t, m.Recording())
	require.Equal(t, 2, rec.startCount())

	// 上一次录音的通道上迟到的最终结果
	rec.sendTo(0, Event{Result: Result{Transcript: "stale", Final: true}})

	assert.Never(t, func() bool {
		submitted, _ := r.snapshot()
		return len(submitted) > 1
	}, 100*time.Millisecond, 5*time.Millisecond)
	submitted, _ := r.snapshot()
	assert.Equal(t, []string{"first"}, submitted)
	assert.True(t, m.Recording())
	assert.Empty(t, m.Transcript())
	m.Close()
}

func TestStaleResultAfterToggleOffIsDropped(t *testing.T) {
	mic := &fakeMic{level: 50}
	rec := &fakeRecognizer{keepOpen: true}
	m, r := newTestMicMode(mic, rec)
	defer rec.closeAll()

	require.True(t, m.Toggle())
	require.False(t, m.Toggle())

	rec.sendTo(0, Event{Result: Result{Transcript: "late", Final: true}})

	assert.Never(t, func() bool {
		submitted, _ := r.snapshot()
		return len(submitted) > 0
	}, 100*time.Millisecond, 5*time.Millisecond)
	assert.False(t, m.Active())
	assert.False(t, m.Recording())
	assert.Equal(t, 1, mic.opened())
	assert.Equal(t, 1, rec.startCount())
}
