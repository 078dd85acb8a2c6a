package service

import (
	"context"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

const (
	TaskSummarize       = "summarize"
	TaskExplainCode     = "explain-code"
	TaskCreativeWriting = "creative-writing"
)

var playgroundPrompts = map[string]string{
	TaskSummarize: "Please provide a clear and concise summary of the following text:\n\n{input}",
	TaskExplainCode: `Explain the coding problem: {input} in a highly structured, beginner-friendly, and visually enriched manner.
🔥 Format your response strictly as follows:
1️⃣ Problem Statement 🎯 → Explain the problem in simple terms with clear input/output examples.
2️⃣ Understanding the Core Concept 💡 → Break down the key ideas/concepts needed to solve the problem. Use small examples to build intuition.
4️⃣ Well-Commented Code 💻 → Provide a fully explained code solution in [java]. Ensure:
Proper indentation & readability
5️⃣ Dry Run Table 📊 → Show how the algorithm works step-by-step using a table format with relevant columns.
6️⃣ Edge Cases 🛑 → Cover tricky cases that may cause bugs or incorrect results.
7️⃣ Complexity Analysis ⏳ → Clearly explain the time (O(?)) and space (O(?)) complexity.
8️⃣ Key Takeaways 📌 → Summarize the most important learning points for easy revision.
🎨 Ensure the explanation is clean, structured, and engaging. Use bold text, bullet points, and emojis to enhance clarity!`,
	TaskCreativeWriting: "Please help with the following creative writing task:\n\n{input}",
}

// newChatPrompt 系统提示词（可选）+ 历史消息 + 当前问题
func newChatPrompt(systemPrompt string) prompt.ChatTemplate {
	templates := make([]schema.MessagesTemplate, 0, 3)
	if systemPrompt != "" {
		templates = append(templates, schema.SystemMessage(systemPrompt))
	}
	templates = append(templates,
		schema.MessagesPlaceholder("message_histories", true),
		schema.UserMessage("{prompt}"),
	)

	return prompt.FromMessages(schema.FString, templates...)
}

// formatPlaygroundPrompt 未知任务直接使用原始输入
func formatPlaygroundPrompt(ctx context.Context, task, input string) ([]*schema.Message, error) {
	tpl, ok := playgroundPrompts[task]
	if !ok {
		return []*schema.Message{schema.UserMessage(input)}, nil
	}

	return prompt.FromMessages(schema.FString, schema.UserMessage(tpl)).
		Format(ctx, map[string]any{"input": input})
}
