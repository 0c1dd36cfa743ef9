package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"capt-agent/internal/domain"
	"capt-agent/internal/transcript"
)

func TestDeltaPrinter_PrintsOnlyNewText(t *testing.T) {
	var buf bytes.Buffer
	p := newDeltaPrinter(&buf)

	history := []domain.Entry{
		{Role: domain.RoleUser, Content: "earlier"},
		{Role: domain.RoleAgent, Content: "old answer"},
		{Role: domain.RoleUser, Content: "hi"},
	}
	p.observe(history)
	p.observe(append(history, domain.Entry{Role: domain.RoleAgent, Streaming: true}))
	p.observe(append(history, domain.Entry{Role: domain.RoleAgent, Content: "Hel", Streaming: true}))
	p.observe(append(history, domain.Entry{Role: domain.RoleAgent, Content: "Hello", Streaming: true}))
	p.observe(append(history, domain.Entry{Role: domain.RoleAgent, Content: "Hello"}))
	p.finish()

	require.Equal(t, "Hello\n", buf.String())
}

func TestDeltaPrinter_SearchingAndFailure(t *testing.T) {
	var buf bytes.Buffer
	p := newDeltaPrinter(&buf)

	user := domain.Entry{Role: domain.RoleUser, Content: "price?"}
	p.observe([]domain.Entry{user})
	p.observe([]domain.Entry{user, {Role: domain.RoleAgent, Content: "SEARCH: x", Searching: true}})
	p.observe([]domain.Entry{
		user,
		{Role: domain.RoleAgent, Content: "SEARCH: x", Searching: true},
		{Role: domain.RoleAgent, Content: transcript.FailureMessage},
	})

	require.Equal(t, "[searching] SEARCH: x\n"+transcript.FailureMessage, buf.String())
}

func TestStepHistory_AlternatesRoles(t *testing.T) {
	got := stepHistory([]string{"a", "b", "c"})
	require.Equal(t, []domain.ChatMessage{
		{Role: domain.RoleUser, Content: "a"},
		{Role: domain.RoleAgent, Content: "b"},
		{Role: domain.RoleUser, Content: "c"},
	}, got)
}

func TestParseChatLine(t *testing.T) {
	in, err := parseChatLine("hello there")
	require.NoError(t, err)
	require.Equal(t, "hello there", in.Message)
	require.Empty(t, in.Images)

	path := filepath.Join(t.TempDir(), "shot.png")
	require.NoError(t, os.WriteFile(path, []byte{0x89, 'P', 'N', 'G'}, 0o600))

	in, err = parseChatLine("/image " + path + " what is this")
	require.NoError(t, err)
	require.Equal(t, "what is this", in.Message)
	require.Len(t, in.Images, 1)
	require.Equal(t, "iVBORw==", in.Images[0].Data)
	require.Equal(t, "image/png", in.Images[0].MIMEType)

	_, err = parseChatLine("/image " + filepath.Join(t.TempDir(), "missing.png"))
	require.Error(t, err)
}
