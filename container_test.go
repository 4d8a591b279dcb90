package zipfile

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContainerPutGetDelete(t *testing.T) {
	c := New()
	assert.Equal(t, 0, c.Count())

	_, err := c.PutBytes("a.txt", []byte("aaa"))
	require.NoError(t, err)
	_, err = c.PutBytes("b.txt", []byte("bbb"))
	require.NoError(t, err)

	assert.True(t, c.Has("a.txt"))
	assert.Equal(t, []string{"a.txt", "b.txt"}, c.Names())

	e, err := c.Get("a.txt")
	require.NoError(t, err)
	assert.Equal(t, "a.txt", e.Name())

	_, err = c.Get("missing")
	var nf *EntryNotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "missing", nf.Name)

	require.NoError(t, c.Delete("a.txt"))
	assert.False(t, c.Has("a.txt"))
	assert.Error(t, c.Delete("a.txt"))
	assert.Equal(t, []string{"b.txt"}, c.Names())
}

func TestContainerPutReplaceKeepsPosition(t *testing.T) {
	c := New()
	c.PutBytes("one", []byte("1"))
	c.PutBytes("two", []byte("2"))
	c.PutBytes("one", []byte("replaced"))

	assert.Equal(t, []string{"one", "two"}, c.Names())
	got, err := c.GetBytes("one")
	require.NoError(t, err)
	assert.Equal(t, "replaced", string(got))
}

func TestContainerDirectoryEntries(t *testing.T) {
	c := New()
	d, err := c.PutDir("assets")
	require.NoError(t, err)
	assert.Equal(t, "assets/", d.Name())
	assert.True(t, d.IsDir())

	_, err = c.PutBytes("dir/", []byte("content"))
	assert.Error(t, err)

	_, err = c.PutReader("dir/", strings.NewReader("content"))
	assert.Error(t, err)
}

func TestContainerRename(t *testing.T) {
	c := New()
	c.PutBytes("first", []byte("1"))
	c.PutBytes("second", []byte("2"))

	require.NoError(t, c.Rename("first", "renamed"))
	assert.False(t, c.Has("first"))
	assert.True(t, c.Has("renamed"))
	assert.Equal(t, []string{"renamed", "second"}, c.Names())

	assert.ErrorIs(t, c.Rename("renamed", "second"), ErrDuplicateEntry)
	assert.Error(t, c.Rename("missing", "whatever"))
	assert.NoError(t, c.Rename("second", "second"))
}

func TestContainerDeleteRegexp(t *testing.T) {
	c := New()
	c.PutBytes(".hidden", []byte("h"))
	c.PutBytes(".git", []byte("g"))
	c.PutBytes("visible", []byte("v"))

	n := c.DeleteRegexp(regexp.MustCompile(`^\.`))
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"visible"}, c.Names())
}

func TestContainerSort(t *testing.T) {
	c := New()
	c.PutBytes("c", nil)
	c.PutBytes("a", nil)
	c.PutBytes("b", nil)

	c.SortByName(func(a, b string) bool { return a < b })
	assert.Equal(t, []string{"a", "b", "c"}, c.Names())

	c.SortByEntry(func(a, b *Entry) bool { return a.Name() > b.Name() })
	assert.Equal(t, []string{"c", "b", "a"}, c.Names())
}

func TestContainerArchiveComment(t *testing.T) {
	c := New()
	require.NoError(t, c.SetArchiveComment("hello"))
	assert.Equal(t, "hello", c.ArchiveComment())

	assert.ErrorIs(t, c.SetArchiveComment(strings.Repeat("x", uint16max+1)), errLongComment)

	c.RevertComment()
	assert.Equal(t, "", c.ArchiveComment())
}

func TestContainerRevertAllOnNewContainer(t *testing.T) {
	c := New()
	c.PutBytes("f", []byte("x"))
	c.SetArchiveComment("c")
	c.RevertAll()
	assert.Equal(t, 0, c.Count())
	assert.Equal(t, "", c.ArchiveComment())
}

func TestMatcherSelectors(t *testing.T) {
	c := New()
	c.PutBytes("src/main.go", nil)
	c.PutBytes("src/util.go", nil)
	c.PutBytes("README.md", nil)
	c.PutDir("src")

	m := c.Matcher().Add("README.md", "does-not-exist")
	assert.Equal(t, 1, m.Count())

	m.Match(regexp.MustCompile(`\.go$`))
	assert.Equal(t, 3, m.Count())
	assert.Equal(t, []string{"README.md", "src/main.go", "src/util.go"}, m.Names())

	all := c.Matcher().All()
	assert.Equal(t, 4, all.Count())
}

func TestMatcherDelete(t *testing.T) {
	c := New()
	c.PutBytes("keep", nil)
	c.PutBytes("drop1", nil)
	c.PutBytes("drop2", nil)

	n := c.Matcher().Match(regexp.MustCompile(`^drop`)).Delete()
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"keep"}, c.Names())
}

func TestMatcherSetPasswordSkipsDirectories(t *testing.T) {
	c := New()
	c.PutBytes("file", []byte("data"))
	c.PutDir("dir")

	require.NoError(t, c.Matcher().All().SetPassword("pw", EncryptionAES128))

	f, _ := c.Get("file")
	assert.Equal(t, EncryptionAES128, f.EncryptionMethod())
	d, _ := c.Get("dir/")
	assert.False(t, d.IsEncrypted())
}

func TestMatcherInvoke(t *testing.T) {
	c := New()
	c.PutBytes("a", nil)
	c.PutBytes("b", nil)

	var seen []string
	c.Matcher().All().Invoke(func(e *Entry) {
		seen = append(seen, e.Name())
	})
	assert.Equal(t, []string{"a", "b"}, seen)
}

func TestGetBytesWithoutWrite(t *testing.T) {
	c := New()
	c.PutBytes("mem", []byte("in memory"))
	got, err := c.GetBytes("mem")
	require.NoError(t, err)
	assert.Equal(t, "in memory", string(got))
}
