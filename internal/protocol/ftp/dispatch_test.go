package ftp

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredentialPolicy(t *testing.T) {
	t.Run("open policy accepts any pair", func(t *testing.T) {
		p := CredentialPolicy{}
		assert.True(t, p.Authenticate("anyone", "anything"))
		assert.False(t, p.Authenticate("anyone", ""))
	})

	t.Run("empty password needs the flag", func(t *testing.T) {
		p := CredentialPolicy{AllowEmptyPassword: true}
		assert.True(t, p.Authenticate("anyone", ""))
	})

	t.Run("user map restricts pairs", func(t *testing.T) {
		p := CredentialPolicy{Users: map[string]string{"alice": "secret"}}
		assert.True(t, p.Authenticate("alice", "secret"))
		assert.False(t, p.Authenticate("alice", "wrong"))
		assert.False(t, p.Authenticate("bob", "secret"))
	})

	t.Run("empty configured password still needs the flag", func(t *testing.T) {
		p := CredentialPolicy{Users: map[string]string{"guest": ""}}
		assert.False(t, p.Authenticate("guest", ""))

		p.AllowEmptyPassword = true
		assert.True(t, p.Authenticate("guest", ""))
	})
}

func TestVerbTable_CoversParser(t *testing.T) {
	// Every verb the parser can produce must have a gating entry.
	lines := []string{
		"USER u", "PASS p", "QUIT", "NOOP", "SYST", "FEAT", "PWD", "CWD d",
		"CDUP", "TYPE I", "PASV", "PORT 1,2,3,4,5,6", "LIST", "NLST",
		"MLSD", "RETR f", "STOR f", "DELE f", "MKD d", "RMD d", "RNFR f",
		"RNTO f", "SIZE f", "MDTM f", "STAT", "HELP", "OPTS UTF8 ON",
	}

	for _, line := range lines {
		cmd := Parse(line)
		_, isMalformed := cmd.(MalformedCmd)
		_, isUnknown := cmd.(UnknownCmd)
		require.False(t, isMalformed || isUnknown, "parse failed for %q", line)

		_, ok := verbTable[cmd.Verb()]
		assert.True(t, ok, "verb %s has no table entry", cmd.Verb())
	}
}

func TestFeatLines_SortedAndDelimited(t *testing.T) {
	lines := featLines()

	require.GreaterOrEqual(t, len(lines), 3)
	assert.Equal(t, "Features:", lines[0])
	assert.Equal(t, "End", lines[len(lines)-1])

	body := lines[1 : len(lines)-1]
	assert.True(t, sort.StringsAreSorted(body))
	assert.Contains(t, body, "MLSD")
	assert.Contains(t, body, "PASV")
	assert.Contains(t, body, "SIZE")
	assert.Contains(t, body, "MDTM")
	assert.Contains(t, body, "UTF8")
}
