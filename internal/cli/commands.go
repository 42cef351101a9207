// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jeranaias/parley/internal/model"
	"github.com/jeranaias/parley/internal/store"
)

// =============================================================================
// SLASH COMMANDS
// =============================================================================

// handleCommand dispatches a slash command. The bool result is false when
// the REPL should exit.
func (a *App) handleCommand(ctx context.Context, input string) (bool, error) {
	parts := strings.Fields(input)
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "/help", "/?":
		printHelp()
		return true, nil

	case "/quit", "/exit", "/q":
		return false, nil

	case "/new":
		a.current = ""
		fmt.Println(infoStyle.Render("new conversation; the next message starts it"))
		return true, nil

	case "/list", "/ls":
		return true, a.cmdList(ctx)

	case "/open":
		if len(args) != 1 {
			return true, fmt.Errorf("usage: /open <number|id>")
		}
		return true, a.cmdOpen(ctx, args[0])

	case "/search":
		if len(args) == 0 {
			return true, fmt.Errorf("usage: /search <query>")
		}
		return true, a.cmdSearch(ctx, strings.Join(args, " "))

	case "/export":
		format := "md"
		if len(args) > 0 {
			format = strings.ToLower(args[0])
		}
		return true, a.cmdExport(ctx, format)

	case "/resend":
		return true, a.cmdResend(ctx)

	case "/delete":
		if len(args) != 1 {
			return true, fmt.Errorf("usage: /delete <number|id>")
		}
		return true, a.cmdDelete(ctx, args[0])

	case "/server":
		if len(args) == 1 {
			a.deps.Client.SetBaseURL(args[0])
			fmt.Println(infoStyle.Render("server: " + args[0]))
			return true, nil
		}
		fmt.Println(infoStyle.Render("server: " + a.deps.Client.BaseURL()))
		return true, nil

	default:
		return true, fmt.Errorf("unknown command %s (try /help)", cmd)
	}
}

func printHelp() {
	rows := [][2]string{
		{"/new", "start a new conversation"},
		{"/list", "list conversations"},
		{"/open <n|id>", "open a conversation and show its history"},
		{"/search <query>", "search message content across conversations"},
		{"/export [md|json]", "export the open conversation to a file"},
		{"/resend", "resend the last failed message in this conversation"},
		{"/delete <n|id>", "delete a conversation and its messages"},
		{"/server [url]", "show or set the server URL"},
		{"/quit", "exit"},
	}
	for _, row := range rows {
		fmt.Printf("  %s  %s\n", commandStyle.Render(fmt.Sprintf("%-18s", row[0])), row[1])
	}
}

// =============================================================================
// CONVERSATION COMMANDS
// =============================================================================

func (a *App) cmdList(ctx context.Context) error {
	metas, err := a.deps.Store.ListConversationMetas(ctx)
	if err != nil {
		return err
	}
	if len(metas) == 0 {
		fmt.Println(infoStyle.Render("no conversations yet"))
		return nil
	}

	fmt.Println(listHeaderStyle.Render("conversations"))
	a.listing = a.listing[:0]
	for i, meta := range metas {
		a.listing = append(a.listing, meta.ID)
		marker := " "
		if meta.ID == a.current {
			marker = "*"
		}
		fmt.Printf("%s %2d. %s %s\n",
			marker, i+1,
			meta.Description,
			infoStyle.Render(fmt.Sprintf("(%d messages)", meta.MessageCount)))
	}
	return nil
}

func (a *App) cmdOpen(ctx context.Context, ref string) error {
	id, err := a.resolveRef(ref)
	if err != nil {
		return err
	}

	conv, err := a.deps.Store.GetConversation(ctx, id)
	if err != nil {
		return err
	}
	messages, err := a.deps.Store.GetMessagesForConversation(ctx, id)
	if err != nil {
		return err
	}

	// Hydrate reactive state so subsequent sends extend this history.
	a.deps.State.SetMessages(id, messages)
	a.current = id

	fmt.Println(listHeaderStyle.Render(conv.GetDescription()))
	for _, msg := range messages {
		a.printMessage(msg)
	}
	return nil
}

func (a *App) printMessage(msg *model.Message) {
	label := promptStyle.Render("you")
	if msg.Role == model.RoleBot {
		label = commandStyle.Render("bot")
	}
	suffix := ""
	if msg.Status == model.StatusFailed {
		suffix = " " + errorStyle.Render("[failed]")
	}
	fmt.Printf("%s%s: %s\n", label, suffix, msg.Content)
	for _, entry := range msg.ToolData {
		fmt.Println(toolStyle.Render(fmt.Sprintf("  [tool: %s/%s]", entry.ToolName, entry.ToolCategory)))
	}
}

func (a *App) cmdSearch(ctx context.Context, query string) error {
	metas, err := a.deps.Store.SearchMessages(ctx, query)
	if err != nil {
		return err
	}
	if len(metas) == 0 {
		fmt.Println(infoStyle.Render("no matches"))
		return nil
	}
	a.listing = a.listing[:0]
	for i, meta := range metas {
		a.listing = append(a.listing, meta.ID)
		fmt.Printf("  %2d. %s %s\n", i+1, meta.Description,
			infoStyle.Render(fmt.Sprintf("(%d matches)", meta.MessageCount)))
	}
	return nil
}

func (a *App) cmdExport(ctx context.Context, format string) error {
	if a.current == "" {
		return fmt.Errorf("no conversation open")
	}
	conv, err := a.deps.Store.GetConversation(ctx, a.current)
	if err != nil {
		return err
	}
	messages, err := a.deps.Store.GetMessagesForConversation(ctx, a.current)
	if err != nil {
		return err
	}

	var data []byte
	var ext string
	switch format {
	case "md", "markdown":
		data = []byte(store.ExportMarkdown(conv, messages))
		ext = "md"
	case "json":
		data, err = store.ExportJSON(conv, messages)
		if err != nil {
			return err
		}
		ext = "json"
	default:
		return fmt.Errorf("unknown export format %q (md or json)", format)
	}

	name := fmt.Sprintf("parley-%s.%s", a.current, ext)
	path := filepath.Join(".", name)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return err
	}
	fmt.Println(infoStyle.Render("exported " + path))
	return nil
}

func (a *App) cmdResend(ctx context.Context) error {
	if a.current == "" && len(a.deps.State.Messages(a.current)) == 0 {
		return fmt.Errorf("no conversation open")
	}

	messages := a.deps.State.Messages(a.current)
	var failed *model.Message
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Status == model.StatusFailed {
			failed = messages[i]
			break
		}
	}
	if failed == nil {
		return fmt.Errorf("nothing to resend")
	}

	key := a.current
	a.render = renderState{}
	unsubscribe := a.deps.State.Subscribe(key, a.renderFrame)
	defer unsubscribe()

	a.sendCount++
	err := a.deps.Coordinator.Resend(ctx, key, failed.ID)
	a.finishRender()
	return err
}

func (a *App) cmdDelete(ctx context.Context, ref string) error {
	id, err := a.resolveRef(ref)
	if err != nil {
		return err
	}
	if err := a.deps.Store.DeleteConversationAndMessages(ctx, id); err != nil {
		return err
	}
	a.deps.State.RemoveConversation(id)
	if a.current == id {
		a.current = ""
	}
	fmt.Println(infoStyle.Render("deleted " + id))
	return nil
}

// resolveRef maps a /list ordinal or a raw conversation ID to an ID.
func (a *App) resolveRef(ref string) (string, error) {
	if n, err := strconv.Atoi(ref); err == nil {
		if n < 1 || n > len(a.listing) {
			return "", fmt.Errorf("no conversation %d; run /list first", n)
		}
		return a.listing[n-1], nil
	}
	return ref, nil
}
