package cli

import (
	"sync"

	"golang.design/x/clipboard"
)

// Clipboard 系统剪贴板；没有图形环境时 Init 会失败
type Clipboard struct {
	once    sync.Once
	initErr error
}

func (c *Clipboard) WriteText(text string) error {
	c.once.Do(func() {
		c.initErr = clipboard.Init()
	})
	if c.initErr != nil {
		return c.initErr
	}
	clipboard.Write(clipboard.FmtText, []byte(text))
	return nil
}
