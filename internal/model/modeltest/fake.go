package modeltest

import (
	"context"
	"strings"
	"sync"

	einoModel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// Call 记录一次 Generate 或 Stream 调用
type Call struct {
	Model    string
	Messages []*schema.Message
}

// FakeChatModel 固定回复 Reply 或返回 Err，并记录所有调用；Stream 按空格切分 Reply
type FakeChatModel struct {
	Reply string
	Err   error

	mu    sync.Mutex
	calls []Call
}

func (f *FakeChatModel) record(messages []*schema.Message, opts []einoModel.Option) {
	options := einoModel.GetCommonOptions(&einoModel.Options{}, opts...)
	call := Call{Messages: messages}
	if options.Model != nil {
		call.Model = *options.Model
	}

	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *FakeChatModel) Generate(ctx context.Context, messages []*schema.Message, opts ...einoModel.Option) (*schema.Message, error) {
	f.record(messages, opts)
	if f.Err != nil {
		return nil, f.Err
	}
	return schema.AssistantMessage(f.Reply, nil), nil
}

func (f *FakeChatModel) Stream(ctx context.Context, messages []*schema.Message, opts ...einoModel.Option) (*schema.StreamReader[*schema.Message], error) {
	f.record(messages, opts)
	if f.Err != nil {
		return nil, f.Err
	}

	words := strings.SplitAfter(f.Reply, " ")
	chunks := make([]*schema.Message, 0, len(words))
	for _, w := range words {
		chunks = append(chunks, schema.AssistantMessage(w, nil))
	}
	return schema.StreamReaderFromArray(chunks), nil
}

// Calls 返回已记录调用的副本
func (f *FakeChatModel) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// LastCall 返回最近一次调用，没有调用时 ok 为 false
func (f *FakeChatModel) LastCall() (Call, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return Call{}, false
	}
	return f.calls[len(f.calls)-1], true
}
