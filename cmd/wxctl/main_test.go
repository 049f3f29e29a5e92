package main

import (
	"bytes"
	"testing"
	"text/tabwriter"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubcommands(t *testing.T) {
	var names []string
	for _, c := range newRootCmd().Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"status", "send", "contacts", "chats", "messages", "search", "watch", "logout"}, names)
}

func TestStatusWithoutDaemon(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("WXWEB_SESSION", "")
	cmd := newRootCmd()
	cmd.SetArgs([]string{"status", "--session", "nobody"})
	cmd.SetOut(&bytes.Buffer{})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `no daemon running for session "nobody"`)
}

func TestInvalidSessionName(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"status", "--session", "Bad Name"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid session name")
}

func TestSendNeedsText(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"send", "alice"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	assert.Error(t, cmd.Execute())
}

func TestPrintJSONAndTable(t *testing.T) {
	resp := request(map[string]any{
		"results": []any{map[string]any{
			"chat_id": "@alice", "sender_name": "Alice", "type": "Text",
			"body": "hello there", "snippet": "<<hello>> there", "timestamp": 0,
		}},
	})

	var buf bytes.Buffer
	o := &rootOptions{json: true}
	require.NoError(t, o.print(&buf, resp, nil))
	assert.Contains(t, buf.String(), `"snippet"`)
	assert.Contains(t, buf.String(), "there")

	buf.Reset()
	o.json = false
	require.NoError(t, o.print(&buf, resp, func(tw *tabwriter.Writer) {
		printMessages(tw, rows(resp, "results"), true)
	}))
	assert.Contains(t, buf.String(), "<<hello>> there")
	assert.Contains(t, buf.String(), "Alice")
}
