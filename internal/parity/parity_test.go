package parity

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"\n\n", ""},
		{"abc", "abc\n"},
		{"abc   \r\nxyz\t\n\n\n", "abc\nxyz\n"},
		{"\nmiddle\n", "\nmiddle\n"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, Normalize(tt.in), "Normalize(%q)", tt.in)
	}
}

func TestCompare_EqualIgnoresPadding(t *testing.T) {
	res := Compare("$ ls\nfile\n", "$ ls   \nfile\n\n\n")
	require.True(t, res.Equal)
	require.Empty(t, res.Diff)
}

func TestCompare_Substitution(t *testing.T) {
	res := Compare("a\nb\nc\n", "a\nB\nc\n")
	require.False(t, res.Equal)
	require.Equal(t, 1, res.Added)
	require.Equal(t, 1, res.Removed)

	want := "--- golden\n+++ actual\n@@ -1,3 +1,3 @@\n a\n-b\n+B\n c\n"
	require.Equal(t, want, res.Diff)
}

func TestCompare_ContextWindow(t *testing.T) {
	var golden, actual []string
	for i := 1; i <= 10; i++ {
		golden = append(golden, fmt.Sprintf("line %d", i))
		actual = append(actual, fmt.Sprintf("line %d", i))
	}
	actual[4] = "changed"

	res := Compare(strings.Join(golden, "\n"), strings.Join(actual, "\n"))
	require.Contains(t, res.Diff, "@@ -2,7 +2,7 @@\n")
	require.NotContains(t, res.Diff, " line 1\n")
	require.NotContains(t, res.Diff, " line 9\n")
	require.Contains(t, res.Diff, "-line 5\n+changed\n")
}

func TestCompare_SeparateHunks(t *testing.T) {
	var golden []string
	for i := 1; i <= 20; i++ {
		golden = append(golden, fmt.Sprintf("%d", i))
	}
	actual := append([]string(nil), golden...)
	actual[0] = "first"
	actual[19] = "last"

	res := Compare(strings.Join(golden, "\n"), strings.Join(actual, "\n"))
	require.Equal(t, 2, strings.Count(res.Diff, "@@ -"))
	require.Equal(t, 2, res.Added)
	require.Equal(t, 2, res.Removed)
}

func TestCompare_AddedLine(t *testing.T) {
	res := Compare("a\n", "a\nb\n")
	require.Equal(t, 1, res.Added)
	require.Zero(t, res.Removed)
	require.Contains(t, res.Diff, "+b\n")
}

func TestCompareFile_UpdateThenMatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "golden", "screen.txt")

	res, err := CompareFile(path, "hello   \nworld\n\n", true)
	require.NoError(t, err)
	require.True(t, res.Updated)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "hello\nworld\n", string(data))

	res, err = CompareFile(path, "hello\nworld", false)
	require.NoError(t, err)
	require.True(t, res.Equal)

	res, err = CompareFile(path, "hello\nthere", false)
	require.NoError(t, err)
	require.False(t, res.Equal)
	require.Contains(t, res.Diff, "-world\n+there\n")
}

func TestCompareFile_Missing(t *testing.T) {
	_, err := CompareFile(filepath.Join(t.TempDir(), "nope.txt"), "x", false)
	require.ErrorIs(t, err, ErrNoGolden)
}
