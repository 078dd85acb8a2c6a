package voice

// Result 一次识别结果；Final 为 true 表示这一句已经确定
type Result struct {
	Transcript string
	Final      bool
}

// Event 识别器事件，Err 非空表示识别出错
type Event struct {
	Result
	Err error
}

// Recognizer 连续语音识别。Start 返回的通道在识别结束时关闭。
type Recognizer interface {
	Start() (<-chan Event, error)
	Stop() error
}

// LevelMeter 当前音量，取值 0~255
type LevelMeter interface {
	Level() float64
	Close() error
}

// Microphone 打开麦克风并返回用于静音检测的音量表
type Microphone interface {
	Open() (LevelMeter, error)
}

// Synthesizer 文本转语音。Speak 返回的通道在播放结束或被停止时关闭。
type Synthesizer interface {
	Speak(text string) (<-chan struct{}, error)
	Stop() error
}
