package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"repoctl"
)

func TestConfirmTypedName_MatchOnRetry(t *testing.T) {
	in := strings.NewReader("alice/wrong\nalice/widget\n")
	var out bytes.Buffer

	require.True(t, confirmTypedName(in, &out, "alice/widget", 3))
	require.Contains(t, out.String(), "does not match")
}

func TestConfirmTypedName_GivesUpAfterAttempts(t *testing.T) {
	in := strings.NewReader("nope\nnope\nnope\nalice/widget\n")
	var out bytes.Buffer

	require.False(t, confirmTypedName(in, &out, "alice/widget", 3))
}

func TestConfirmTypedName_EOF(t *testing.T) {
	var out bytes.Buffer
	require.False(t, confirmTypedName(strings.NewReader(""), &out, "alice/widget", 3))
}

func TestPrintRepos_ForkColumn(t *testing.T) {
	var out bytes.Buffer
	printRepos(&out, []repoctl.Repository{{
		NameWithOwner: "alice/widget",
		Visibility:    repoctl.VisibilityPublic,
		IsFork:        true,
		CommitCount:   10,
		Parent:        &repoctl.ParentRepo{NameWithOwner: "upstream/widget", CommitCount: 14},
	}}, true)

	require.Contains(t, out.String(), "BEHIND")
	require.Contains(t, out.String(), "4")
}

func TestFormatBytes(t *testing.T) {
	require.Equal(t, "512 B", formatBytes(512))
	require.Equal(t, "2.0 KiB", formatBytes(2048))
	require.Equal(t, "5.0 MiB", formatBytes(5<<20))
}
