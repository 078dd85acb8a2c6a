package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"chatdeck/internal/chat"
	"chatdeck/internal/cli"
	"chatdeck/internal/client"
	"chatdeck/internal/config"
	"chatdeck/internal/export"
	"chatdeck/internal/session"
	"chatdeck/internal/streaming"
	"chatdeck/internal/voice"
	"chatdeck/pkg/logger"

	"github.com/chzyer/readline"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

const chatHelp = `Commands:
  /new               start a new chat
  /sessions          list chats
  /switch <n|id>     switch to another chat
  /delete [n|id]     delete a chat (default: current)
  /history           show the current chat
  /export pdf|md     export the current chat
  /copy              copy the last reply
  /model [id]        show or change the model
  /mic               toggle mic mode
  /speak             read the last reply aloud (again to stop)
  /help              show this help
  /quit              exit`

type chatREPL struct {
	cfg        *config.Config
	store      *session.Store
	controller *chat.Controller
	renderer   *cli.Renderer
	clipboard  *cli.Clipboard
	stream     *cli.Stream
	speaker    *voice.Speaker
	mic        *voice.MicMode
	models     []config.ModelOption
}

func newChatCmd() *cobra.Command {
	var opts struct {
		Model   string
		Session string
		New     bool
	}
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, closeStore, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			switch {
			case opts.New:
				store.Create()
			case opts.Session != "":
				if err := store.SetCurrent(opts.Session); err != nil {
					return err
				}
			}
			if _, ok := store.Current(); !ok {
				store.Create()
			}

			model := opts.Model
			if model == "" {
				model = cfg.Client.Model
			}
			repl, err := newChatREPL(cmd.Context(), cfg, store, model)
			if err != nil {
				return err
			}
			return repl.run(cmd.Context())
		},
	}
	cmd.Flags().StringVarP(&opts.Model, "model", "m", "", "model id (defaults to client.model)")
	cmd.Flags().StringVarP(&opts.Session, "session", "s", "", "resume the chat with this id")
	cmd.Flags().BoolVarP(&opts.New, "new", "n", false, "start with a new chat")
	return cmd
}

// fetchModels 从后端获取模型列表，失败时使用内置列表
func fetchModels(ctx context.Context, api *client.Client) []config.ModelOption {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	models, err := api.Models(ctx)
	if err != nil || len(models) == 0 {
		logger.Warnf("Failed to fetch models, using built-in list: %v", err)
		return config.DefaultModels()
	}
	return models
}

func newChatREPL(ctx context.Context, cfg *config.Config, store *session.Store, model string) (*chatREPL, error) {
	api := client.New(cfg.Client.BackendURL, cfg.Client.RequestTimeout)
	models := fetchModels(ctx, api)

	renderer, err := cli.NewRenderer(100)
	if err != nil {
		logger.Warnf("Markdown rendering disabled: %v", err)
	}

	r := &chatREPL{
		cfg:       cfg,
		store:     store,
		renderer:  renderer,
		clipboard: &cli.Clipboard{},
		stream:    &cli.Stream{Width: readline.GetScreenWidth()},
		models:    models,
	}
	r.controller = chat.NewController(api, store, streaming.New(cfg.Client.Stream), chat.Options{
		Model:  model,
		Models: models,
		OnState: func(s chat.State) {
			if s == chat.Thinking {
				cli.Notice("thinking...")
			}
		},
		OnStream: r.stream.Update,
	})
	if err := r.controller.SetModel(model); err != nil {
		logger.Warnf("Model %s is not available, using %s", model, r.controller.Model())
	}

	if len(cfg.Client.Voice.SpeakCommand) > 0 {
		r.speaker = voice.NewSpeaker(&voice.CommandSynthesizer{Command: cfg.Client.Voice.SpeakCommand})
	}
	if len(cfg.Client.Voice.CaptureCommand) > 0 && len(cfg.Client.Voice.RecognizeCommand) > 0 {
		r.mic = voice.NewMicMode(cfg.Client.Voice,
			&voice.CommandMicrophone{Command: cfg.Client.Voice.CaptureCommand},
			&voice.CommandRecognizer{Command: cfg.Client.Voice.RecognizeCommand},
			r.submitTranscript,
			r.notify,
		)
	}
	return r, nil
}

func (r *chatREPL) run(ctx context.Context) error {
	historyFile := filepath.Join(filepath.Dir(r.cfg.Client.Storage.Path), "chat_history")
	prompt, err := cli.NewPrompt(historyFile)
	if err != nil {
		return errors.Wrap(err, "creating prompt")
	}
	defer prompt.Close()
	if r.mic != nil {
		defer r.mic.Close()
	}
	if r.speaker != nil {
		defer r.speaker.Stop()
	}

	r.printCurrent()
	cli.Notice("Type /help for commands.")

	for {
		line, err := prompt.ReadLine()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if quit := r.command(line); quit {
				return nil
			}
			continue
		}
		if r.mic != nil && !r.mic.InputEnabled() {
			cli.Notice("Input is disabled while mic mode is on. Use /mic to turn it off.")
			continue
		}
		r.send(ctx, line)
	}
}

// send 发送一轮对话；对话请求和流式展示都不可中途取消
func (r *chatREPL) send(ctx context.Context, text string) {
	msg, err := r.controller.Submit(ctx, text)
	if err != nil {
		cli.Error("%v", err)
		return
	}
	r.stream.End()
	cli.Bot(r.renderer.Render(msg.Content))
}

// submitTranscript 麦克风模式下检测到静音后自动发送
func (r *chatREPL) submitTranscript(text string) {
	cli.User(text)
	r.send(context.Background(), text)
}

// notify 语音相关提示作为机器人消息追加到当前会话
func (r *chatREPL) notify(text string) {
	r.controller.AppendBotMessage(text)
	cli.Bot(text)
}

func (r *chatREPL) command(line string) bool {
	fields := strings.Fields(line)
	name, args := fields[0], fields[1:]

	switch name {
	case "/quit", "/exit":
		return true
	case "/help":
		fmt.Fprintln(cli.Out, chatHelp)
	case "/new":
		sess := r.store.Create()
		cli.Success("Started chat %s", sess.ID)
	case "/sessions":
		printSessions(r.store)
	case "/switch":
		if len(args) == 0 {
			cli.Error("usage: /switch <n|id>")
			return false
		}
		if err := r.store.SetCurrent(resolveSession(r.store, args[0])); err != nil {
			cli.Error("%v", err)
			return false
		}
		r.printCurrent()
	case "/delete":
		id := r.store.CurrentID()
		if len(args) > 0 {
			id = resolveSession(r.store, args[0])
		}
		if _, ok := r.store.Get(id); !ok {
			cli.Error("session %s not found", id)
			return false
		}
		r.store.Delete(id)
		cli.Success("Deleted chat %s", id)
		r.printCurrent()
	case "/history":
		r.printCurrent()
	case "/export":
		format := "pdf"
		if len(args) > 0 {
			format = args[0]
		}
		path, err := exportChat(r.controller.Messages(), format, r.cfg.Client.ExportDir)
		if err != nil {
			cli.Error("Export failed: %v", err)
			return false
		}
		cli.Success("Saved %s", path)
	case "/copy":
		reply, ok := r.lastReply()
		if !ok {
			cli.Error("nothing to copy")
			return false
		}
		if err := r.clipboard.WriteText(reply); err != nil {
			cli.Error("Copy failed: %v", err)
			return false
		}
		cli.Success("Copied to clipboard!")
	case "/model":
		if len(args) == 0 {
			printModels(r.models, r.controller.Model())
			return false
		}
		if err := r.controller.SetModel(args[0]); err != nil {
			cli.Error("%v", err)
			return false
		}
		cli.Success("Model set to %s", args[0])
	case "/mic":
		if r.mic == nil {
			cli.Error("mic mode needs client.voice.capture_command and recognize_command")
			return false
		}
		if r.mic.Toggle() {
			cli.Notice("Mic mode on. Speak, then pause to send.")
		} else {
			cli.Notice("Mic mode off.")
		}
	case "/speak":
		r.speak()
	default:
		cli.Error("unknown command %s, try /help", name)
	}
	return false
}

func (r *chatREPL) speak() {
	if r.speaker == nil {
		cli.Error("speech needs client.voice.speak_command")
		return
	}
	reply, ok := r.lastReply()
	if !ok && !r.speaker.Speaking() {
		cli.Error("nothing to read")
		return
	}
	speaking, err := r.speaker.Toggle(reply)
	if err != nil {
		cli.Error("Speech failed: %v", err)
		return
	}
	if !speaking {
		cli.Notice("Stopped speaking.")
	}
}

func (r *chatREPL) lastReply() (string, bool) {
	messages := r.controller.Messages()
	for i := len(messages) - 1; i >= 0; i-- {
		if !messages[i].IsUser && !messages[i].IsStreaming {
			return messages[i].Content, true
		}
	}
	return "", false
}

func (r *chatREPL) printCurrent() {
	sess, ok := r.store.Current()
	if !ok {
		return
	}
	cli.Title("%s (%s)", sess.Title, sess.ID)
	for _, m := range sess.Messages {
		if m.IsUser {
			cli.User(m.Content)
		} else {
			cli.Bot(r.renderer.Render(m.Content))
		}
	}
}

// resolveSession 支持按列表序号（从 1 开始）或 ID 指定会话
func resolveSession(store *session.Store, arg string) string {
	if n, err := strconv.Atoi(arg); err == nil {
		sessions := store.Sessions()
		if n >= 1 && n <= len(sessions) {
			return sessions[n-1].ID
		}
	}
	return arg
}

func printSessions(store *session.Store) {
	current := store.CurrentID()
	for i, sess := range store.Sessions() {
		marker := " "
		if sess.ID == current {
			marker = "*"
		}
		fmt.Fprintf(cli.Out, "%s %2d. %s  %s  (%d messages, %s)\n",
			marker, i+1, sess.ID, sess.Title, len(sess.Messages),
			sess.Timestamp.Local().Format(export.TimestampLayout))
	}
}

func printModels(models []config.ModelOption, current string) {
	for _, m := range models {
		marker := " "
		if m.ID == current {
			marker = "*"
		}
		fmt.Fprintf(cli.Out, "%s %s  %s\n", marker, m.ID, m.Name)
	}
}

func exportChat(messages []session.Message, format, dir string) (string, error) {
	switch format {
	case "pdf":
		data, err := export.PDF(messages)
		if err != nil {
			return "", err
		}
		return export.Download(dir, export.ChatPDFFile, data)
	case "md", "markdown":
		return export.Download(dir, export.ChatMarkdownFile, export.Markdown(messages))
	default:
		return "", errors.Errorf("unsupported format %q, use pdf or md", format)
	}
}
