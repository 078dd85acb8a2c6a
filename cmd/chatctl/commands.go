package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"chatdeck/internal/cli"
	"chatdeck/internal/client"
	apimodel "chatdeck/internal/model"
	"chatdeck/internal/playground"
	"chatdeck/internal/session"
	"chatdeck/internal/voice"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newSessionsCmd() *cobra.Command {
	var deleteID string
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List or delete saved chats",
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

			if deleteID != "" {
				id := resolveSession(store, deleteID)
				if _, ok := store.Get(id); !ok {
					return errors.Wrapf(session.ErrSessionNotFound, "session %s", id)
				}
				store.Delete(id)
				cli.Success("Deleted chat %s", id)
			}
			printSessions(store)
			return nil
		},
	}
	cmd.Flags().StringVarP(&deleteID, "delete", "d", "", "delete the chat with this id or list number")
	return cmd
}

func newExportCmd() *cobra.Command {
	var opts struct {
		Format  string
		Session string
		Dir     string
	}
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a chat as PDF or Markdown",
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

			id := store.CurrentID()
			if opts.Session != "" {
				id = resolveSession(store, opts.Session)
			}
			sess, ok := store.Get(id)
			if !ok {
				return errors.Wrapf(session.ErrSessionNotFound, "session %q", id)
			}
			dir := opts.Dir
			if dir == "" {
				dir = cfg.Client.ExportDir
			}
			path, err := exportChat(sess.Messages, opts.Format, dir)
			if err != nil {
				return err
			}
			cli.Success("Saved %s", path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&opts.Format, "format", "f", "pdf", "pdf or md")
	cmd.Flags().StringVarP(&opts.Session, "session", "s", "", "chat id or list number (defaults to current)")
	cmd.Flags().StringVar(&opts.Dir, "dir", "", "output directory (defaults to client.export_dir)")
	return cmd
}

func newPlaygroundCmd() *cobra.Command {
	var opts struct {
		Task   string
		Model  string
		Format string
		Copy   bool
		Speak  bool
	}
	cmd := &cobra.Command{
		Use:   "playground [input]",
		Short: "Run a single summarize / explain-code / creative-writing task",
		Long:  "Runs one playground task. Input comes from the arguments, or stdin when none are given. Ctrl-C stops generation.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			input := strings.Join(args, " ")
			if input == "" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return errors.Wrap(err, "reading stdin")
				}
				input = string(data)
			}

			var speaker *voice.Speaker
			if opts.Speak && len(cfg.Client.Voice.SpeakCommand) > 0 {
				speaker = voice.NewSpeaker(&voice.CommandSynthesizer{Command: cfg.Client.Voice.SpeakCommand})
			}

			api := client.New(cfg.Client.BackendURL, cfg.Client.RequestTimeout)
			pg := playground.NewController(api, &cli.Clipboard{}, nil, speaker, cfg.LLM.PlaygroundModel)
			if err := pg.SetTask(opts.Task); err != nil {
				return err
			}
			if opts.Model != "" {
				pg.SetModel(opts.Model)
			}

			// Ctrl-C 停止生成，而不是直接退出
			interrupts := make(chan os.Signal, 1)
			signal.Notify(interrupts, os.Interrupt)
			defer signal.Stop(interrupts)
			go func() {
				for range interrupts {
					pg.Stop()
				}
			}()

			output, err := pg.Submit(cmd.Context(), input)
			if err != nil {
				return err
			}

			renderer, _ := cli.NewRenderer(100)
			fmt.Fprintln(cli.Out, renderer.Render(output))

			if opts.Copy && pg.Copy() {
				cli.Success("Copied to clipboard!")
			}
			if opts.Format != "" {
				path, err := pg.Download(opts.Format, cfg.Client.ExportDir)
				if err != nil {
					return err
				}
				cli.Success("Saved %s", path)
			}
			if speaker != nil {
				if _, err := pg.ToggleSpeech(); err != nil {
					return err
				}
				waitSpeech(speaker)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&opts.Task, "task", "t", playground.TaskSummarize, "summarize, explain-code or creative-writing")
	cmd.Flags().StringVarP(&opts.Model, "model", "m", "", "model id (defaults to llm.playground_model)")
	cmd.Flags().StringVarP(&opts.Format, "format", "f", "", "also save the output as txt, md or json")
	cmd.Flags().BoolVar(&opts.Copy, "copy", false, "copy the output to the clipboard")
	cmd.Flags().BoolVar(&opts.Speak, "speak", false, "read the output aloud")
	return cmd
}

// waitSpeech 等朗读结束，Ctrl-C 提前停止
func waitSpeech(speaker *voice.Speaker) {
	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for speaker.Speaking() {
		select {
		case <-interrupts:
			speaker.Stop()
			return
		case <-ticker.C:
		}
	}
}

func newAskCmd() *cobra.Command {
	var opts struct {
		Model   string
		Session string
	}
	cmd := &cobra.Command{
		Use:   "ask <prompt>",
		Short: "Ask once and print the reply as the backend streams it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			model := opts.Model
			if model == "" {
				model = cfg.Client.Model
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			api := client.New(cfg.Client.BackendURL, cfg.Client.RequestTimeout)
			_, err = api.StreamChat(ctx, apimodel.ChatRequest{
				Prompt:    strings.Join(args, " "),
				Model:     model,
				SessionID: opts.Session,
			}, func(chunk string) {
				fmt.Fprint(cli.Out, chunk)
			})
			fmt.Fprintln(cli.Out)
			return err
		},
	}
	cmd.Flags().StringVarP(&opts.Model, "model", "m", "", "model id (defaults to client.model)")
	cmd.Flags().StringVarP(&opts.Session, "session", "s", "", "server-side history to continue (defaults to \"default\")")
	return cmd
}

func newModelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the models offered by the backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			api := client.New(cfg.Client.BackendURL, cfg.Client.RequestTimeout)
			printModels(fetchModels(cmd.Context(), api), cfg.Client.Model)
			return nil
		},
	}
}
