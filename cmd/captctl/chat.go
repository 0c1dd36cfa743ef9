package main

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"capt-agent/internal/domain"
	"capt-agent/internal/usecase"
)

const chatHelp = `Type a message and press enter. Commands:
  /image <path> [message]  attach an image to the message
  /new                     start a new conversation
  /quit                    exit`

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat with the portfolio assistant",
	Args:  cobra.NoArgs,
	RunE:  runChat,
}

func runChat(cmd *cobra.Command, _ []string) error {
	ctx := commandContext(cmd)
	a, err := buildApp(ctx, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, chatHelp)

	var conversationID string
	scanner := bufio.NewScanner(cmd.InOrStdin())
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for {
		fmt.Fprint(out, "\n> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit":
			return nil
		case line == "/new":
			conversationID = ""
			fmt.Fprintln(out, "-- new conversation")
			continue
		}

		in, err := parseChatLine(line)
		if err != nil {
			fmt.Fprintln(out, "error:", err)
			continue
		}
		in.ConversationID = conversationID

		turnCtx, cancel := context.WithTimeout(ctx, timeout)
		p := newDeltaPrinter(out)
		res, err := a.Service.Chat(turnCtx, in, p.observe)
		cancel()
		p.finish()

		if res.ConversationID != "" {
			conversationID = res.ConversationID
		}
		if err != nil {
			fmt.Fprintf(out, "[%s]\n", usecase.CodeOf(err))
			continue
		}
		printGrounding(out, res.Grounding)
	}
}

// parseChatLine turns "/image <path> [message]" into an attachment.
func parseChatLine(line string) (usecase.ChatInput, error) {
	rest, ok := strings.CutPrefix(line, "/image ")
	if !ok {
		return usecase.ChatInput{Message: line}, nil
	}
	path, message, _ := strings.Cut(strings.TrimSpace(rest), " ")
	img, err := readImage(path)
	if err != nil {
		return usecase.ChatInput{}, err
	}
	return usecase.ChatInput{Message: message, Images: []usecase.ImageInput{img}}, nil
}

func readImage(path string) (usecase.ImageInput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return usecase.ImageInput{}, fmt.Errorf("read image: %w", err)
	}
	return usecase.ImageInput{
		Data:     base64.StdEncoding.EncodeToString(data),
		MIMEType: mime.TypeByExtension(strings.ToLower(filepath.Ext(path))),
	}, nil
}

func printGrounding(w io.Writer, sources []domain.GroundingSource) {
	if len(sources) == 0 {
		return
	}
	fmt.Fprintln(w, "sources:")
	for _, s := range sources {
		title := s.Title
		if title == "" {
			title = s.URI
		}
		fmt.Fprintf(w, "  - %s <%s>\n", title, s.URI)
	}
}

// deltaPrinter writes only the text each transcript snapshot adds to the
// streaming agent entry, and any entry appended after it. The first snapshot
// it sees ends with the user's message.
type deltaPrinter struct {
	w         io.Writer
	base      int
	printed   int
	seen      int
	searching bool
}

func newDeltaPrinter(w io.Writer) *deltaPrinter {
	return &deltaPrinter{w: w, base: -1}
}

func (p *deltaPrinter) observe(entries []domain.Entry) {
	if p.base < 0 {
		p.base = len(entries)
		p.seen = len(entries)
		return
	}
	if p.base >= len(entries) {
		return
	}

	cur := entries[p.base]
	if cur.Searching && !p.searching {
		p.searching = true
		fmt.Fprint(p.w, "[searching] ")
	}
	if len(cur.Content) > p.printed {
		fmt.Fprint(p.w, cur.Content[p.printed:])
		p.printed = len(cur.Content)
	}

	start := max(p.seen, p.base+1)
	for _, e := range entries[start:] {
		fmt.Fprintf(p.w, "\n%s", e.Content)
	}
	p.seen = len(entries)
}

func (p *deltaPrinter) finish() {
	fmt.Fprintln(p.w)
}
