package crawler

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTargetNormalizes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		raw      string
		wantPath string
		wantURL  string
		wantPort int
	}{
		{"root without path", "sftp://example.com", "/", "sftp://example.com/", 22},
		{"root with slash", "sftp://example.com/", "/", "sftp://example.com/", 22},
		{"repeated separators", "sftp://example.com//a///b", "/a/b", "sftp://example.com/a/b", 22},
		{"dot dot", "sftp://example.com/a/b/../c", "/a/c", "sftp://example.com/a/c", 22},
		{"custom port", "sftp://example.com:2222/x", "/x", "sftp://example.com:2222/x", 2222},
		{"default port dropped", "sftp://example.com:22/x", "/x", "sftp://example.com/x", 22},
		{"space encoded", "sftp://example.com/my file.txt", "/my file.txt", "sftp://example.com/my%20file.txt", 22},
		{"single slash scheme", "sftp:/example.com/x", "/x", "sftp://example.com/x", 22},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			target, err := ParseTarget(tt.raw, "sftp", 22)
			require.NoError(t, err)
			assert.Equal(t, tt.wantPath, target.Path)
			assert.Equal(t, tt.wantURL, target.URL())
			assert.Equal(t, tt.wantPort, target.Port)
		})
	}
}

func TestParseTargetRejects(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "   ", "smb://example.com/share", "sftp:///nohost", "sftp://example.com:99999/x", "sftp://exa mple.com:abc/"} {
		_, err := ParseTarget(raw, "sftp", 22)
		var malformed *MalformedTargetError
		require.Truef(t, errors.As(err, &malformed), "expected MalformedTargetError for %q, got %v", raw, err)
	}
}

func TestTargetChildURL(t *testing.T) {
	t.Parallel()

	root, err := ParseTarget("sftp://example.com", "sftp", 22)
	require.NoError(t, err)
	assert.Equal(t, "sftp://example.com/file1.txt", root.ChildURL("file1.txt"))

	dir, err := ParseTarget("sftp://example.com/docs/", "sftp", 22)
	require.NoError(t, err)
	assert.Equal(t, "sftp://example.com/docs/a%20b.txt", dir.ChildURL("a b.txt"))
	assert.Equal(t, "docs", dir.Filename())
	assert.Equal(t, []string{"docs"}, dir.Segments())
	assert.Equal(t, "", root.Filename())
	assert.True(t, root.IsRoot())
	assert.Equal(t, "example.com:22", root.Authority())
}
