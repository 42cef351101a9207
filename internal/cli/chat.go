// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peterh/liner"

	"github.com/jeranaias/parley/internal/config"
	"github.com/jeranaias/parley/internal/convstate"
	"github.com/jeranaias/parley/internal/model"
	"github.com/jeranaias/parley/internal/send"
	"github.com/jeranaias/parley/internal/session"
	"github.com/jeranaias/parley/internal/store"
	"github.com/jeranaias/parley/internal/stream"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// =============================================================================
// APP
// =============================================================================

// Deps are the wired engine components the REPL drives.
type Deps struct {
	Config      *config.Config
	Store       *store.Store
	State       *convstate.Store
	Client      *stream.Client
	Controller  *session.Controller
	Coordinator *send.Coordinator
}

// App is the interactive REPL session.
type App struct {
	deps  Deps
	input *Input

	// current is the conversation the REPL is focused on. Empty means a
	// brand-new conversation: the next send goes out without an ID and
	// the server assigns one via the reply stream.
	current string

	// listing maps the ordinals shown by /list to conversation IDs so
	// /open, /export and /delete accept either form.
	listing []string

	render    renderState
	startTime time.Time
	sendCount int
}

// renderState tracks progressive output for the in-flight bot reply.
type renderState struct {
	botID   string
	printed int // runes of Content already written
	tools   int // ToolData entries already announced
}

// NewApp builds the REPL around already-wired engine components. The
// controller and coordinator may be attached after construction, since
// their callbacks point back at the app.
func NewApp(deps Deps, historyFile string) *App {
	return &App{
		deps:      deps,
		input:     NewInput(historyFile),
		startTime: time.Now(),
	}
}

// Attach completes the wiring once the engine components that depend on
// the app's callbacks exist.
func (a *App) Attach(controller *session.Controller, coordinator *send.Coordinator) {
	a.deps.Controller = controller
	a.deps.Coordinator = coordinator
}

// OnStatus is the controller's progress projection hook. A nil status
// clears the transient line.
func (a *App) OnStatus(status *session.Status) {
	if status == nil {
		return
	}
	line := status.Text
	if status.ToolName != "" {
		line = fmt.Sprintf("[%s] %s", status.ToolName, line)
	}
	fmt.Fprintln(os.Stderr, statusStyle.Render("  ... "+line))
}

// OnNotify surfaces transient engine notifications.
func (a *App) OnNotify(text string) {
	fmt.Fprintln(os.Stderr, warningStyle.Render("[!] ")+text)
}

// OnConversationCreated fires after a new conversation got its server
// identity; the REPL follows it so the next send targets the right row.
func (a *App) OnConversationCreated(conversationID string) {
	a.current = conversationID
	fmt.Fprintln(os.Stderr, infoStyle.Render("conversation "+conversationID))
}

// =============================================================================
// RUN LOOP
// =============================================================================

// Run executes the REPL until the user quits or input is closed.
func (a *App) Run(ctx context.Context) error {
	defer a.input.Close()

	printWelcome(a.deps.Client)

	// First Ctrl+C aborts the in-flight stream instead of the process.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		for range sigChan {
			a.deps.Controller.Abort()
			fmt.Fprintln(os.Stderr, "\n"+warningStyle.Render("[Cancelled]"))
		}
	}()

	for {
		input, err := a.input.ReadLine(promptStyle.Render("parley> "))
		if err != nil {
			if err == liner.ErrPromptAborted {
				fmt.Println()
				a.printExitSummary()
				return nil
			}
			// EOF (Ctrl+D) or terminal error - exit gracefully
			fmt.Println()
			a.printExitSummary()
			return nil
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			keepGoing, err := a.handleCommand(ctx, input)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s %v\n", errorStyle.Render("[Error]"), err)
			}
			if !keepGoing {
				a.printExitSummary()
				return nil
			}
			continue
		}

		if strings.EqualFold(input, "exit") || strings.EqualFold(input, "quit") {
			a.printExitSummary()
			return nil
		}

		if err := a.sendMessage(ctx, input); err != nil {
			fmt.Fprintf(os.Stderr, "%s %v\n", errorStyle.Render("[Error]"), err)
		}
	}
}

// =============================================================================
// SENDING
// =============================================================================

// sendMessage runs one optimistic send and renders the streamed reply as
// it accumulates. The coordinator and controller run synchronously on
// this goroutine, so reactive frames arrive in order between the prompt
// we just printed and the one we print next.
func (a *App) sendMessage(ctx context.Context, content string) error {
	key := a.current // PendingKey ("") for a brand-new conversation

	a.render = renderState{}
	unsubscribe := a.deps.State.Subscribe(key, a.renderFrame)
	defer unsubscribe()

	a.sendCount++
	err := a.deps.Coordinator.Send(ctx, send.Input{
		Content:        content,
		ConversationID: key,
	})
	a.finishRender()
	return err
}

// renderFrame prints the delta of the in-flight bot reply on every
// reactive state frame.
func (a *App) renderFrame(messages []*model.Message) {
	msg := loadingBot(messages)
	if msg == nil {
		return
	}
	if a.render.botID != msg.ID {
		a.render = renderState{botID: msg.ID}
	}

	runes := []rune(msg.Content)
	if len(runes) > a.render.printed {
		fmt.Print(string(runes[a.render.printed:]))
		a.render.printed = len(runes)
	}

	for _, entry := range msg.ToolData[a.render.tools:] {
		fmt.Println()
		fmt.Println(toolStyle.Render(fmt.Sprintf("[tool: %s/%s]", entry.ToolName, entry.ToolCategory)))
	}
	a.render.tools = len(msg.ToolData)
}

// finishRender closes out the streamed block and prints session stats
// from the final message, if the reply produced one.
func (a *App) finishRender() {
	if a.render.botID == "" {
		return
	}
	fmt.Println()

	final := a.deps.State.Get(a.current, a.render.botID)
	if final != nil && final.Stats != nil {
		fmt.Fprintln(os.Stderr, infoStyle.Render(fmt.Sprintf(
			"  %d chunks in %dms (first after %dms)",
			final.Stats.ChunkCount, final.Stats.TotalMs, final.Stats.FirstChunkMs)))
	}
	a.render = renderState{}
}

// loadingBot returns the in-flight bot reply, which is always the last
// loading message in the frame.
func loadingBot(messages []*model.Message) *model.Message {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Loading && messages[i].Role == model.RoleBot {
			return messages[i]
		}
	}
	return nil
}

// =============================================================================
// BANNERS
// =============================================================================

func printWelcome(client *stream.Client) {
	fmt.Println(welcomeStyle.Render("parley " + Version))
	if client.IsConfigured() {
		fmt.Println(infoStyle.Render("server: " + client.BaseURL()))
	} else {
		fmt.Println(warningStyle.Render("server not configured; sends will fail until one is set"))
	}
	fmt.Println(infoStyle.Render("type /help for commands, /quit to exit"))
	fmt.Println()
}

func (a *App) printExitSummary() {
	elapsed := time.Since(a.startTime).Round(time.Second)
	fmt.Println(infoStyle.Render(fmt.Sprintf(
		"%d messages sent in %s", a.sendCount, elapsed)))
}
