package voice

import (
	"encoding/binary"
	"math"
	"math/cmplx"
	"sync"
)

// 与浏览器 AnalyserNode 的默认参数一致
const (
	DefaultFFTSize  = 2048
	minDecibels     = -100.0
	maxDecibels     = -30.0
	smoothingFactor = 0.8
)

// PCMMeter 对 16 位单声道 PCM 做 FFT，输出按字节缩放的平均频域能量
type PCMMeter struct {
	mu       sync.Mutex
	size     int
	samples  []float64
	smoothed []float64
	window   []float64
}

func NewPCMMeter(fftSize int) *PCMMeter {
	if fftSize <= 0 || fftSize&(fftSize-1) != 0 {
		fftSize = DefaultFFTSize
	}

	window := make([]float64, fftSize)
	n := float64(fftSize)
	for i := range window {
		// Blackman 窗
		x := float64(i) / n
		window[i] = 0.42 - 0.5*math.Cos(2*math.Pi*x) + 0.08*math.Cos(4*math.Pi*x)
	}

	return &PCMMeter{
		size:     fftSize,
		samples:  make([]float64, fftSize),
		smoothed: make([]float64, fftSize/2),
		window:   window,
	}
}

// Write 追加 little-endian int16 样本，只保留最近 fftSize 个
func (m *PCMMeter) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(p)
	count := n / 2
	if count == 0 {
		return n, nil
	}
	if count > m.size {
		p = p[(count-m.size)*2:]
		count = m.size
	}

	copy(m.samples, m.samples[count:])
	base := m.size - count
	for i := 0; i < count; i++ {
		v := int16(binary.LittleEndian.Uint16(p[i*2:]))
		m.samples[base+i] = float64(v) / 32768
	}
	return n, nil
}

// Level 返回 0~255 的平均能量
func (m *PCMMeter) Level() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	buf := make([]complex128, m.size)
	for i, s := range m.samples {
		buf[i] = complex(s*m.window[i], 0)
	}
	fft(buf)

	var sum float64
	n := float64(m.size)
	for k := range m.smoothed {
		mag := cmplx.Abs(buf[k]) / n
		m.smoothed[k] = smoothingFactor*m.smoothed[k] + (1-smoothingFactor)*mag

		db := minDecibels
		if m.smoothed[k] > 0 {
			db = 20 * math.Log10(m.smoothed[k])
		}
		scaled := 255 * (db - minDecibels) / (maxDecibels - minDecibels)
		sum += math.Max(0, math.Min(255, scaled))
	}
	return sum / float64(len(m.smoothed))
}

func (m *PCMMeter) Close() error {
	return nil
}

// fft 原地 radix-2 Cooley-Tukey，len(a) 必须是 2 的幂
func fft(a []complex128) {
	n := len(a)
	for i, j := 1, 0; i < n; i++ {
		bit := n >> 1
		for ; j&bit != 0; bit >>= 1 {
			j ^= bit
		}
		j ^= bit
		if i < j {
			a[i], a[j] = a[j], a[i]
		}
	}

	for length := 2; length <= n; length <<= 1 {
		w := cmplx.Exp(complex(0, -2*math.Pi/float64(length)))
		for i := 0; i < n; i += length {
			wk := complex(1, 0)
			for k := 0; k < length/2; k++ {
				u := a[i+k]
				v := a[i+k+length/2] * wk
				a[i+k] = u + v
				a[i+k+length/2] = u - v
				wk *= w
			}
		}
	}
}
