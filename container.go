package zipfile

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"
)

// A Container holds the entries of an archive in insertion order. A
// container opened from an existing archive additionally keeps an
// immutable baseline snapshot, used to revert changes and to decide which
// entries can be copied raw on write.
//
// A Container is not safe for concurrent use.
type Container struct {
	entries map[string]*Entry
	names   []string
	comment string
	source  *snapshot
	src     *sourceArchive
}

// snapshot is the deep-cloned state of the archive at open time.
type snapshot struct {
	entries map[string]*Entry
	names   []string
	comment string
}

// New returns an empty container.
func New() *Container {
	return &Container{entries: make(map[string]*Entry)}
}

// Count returns the number of entries.
func (c *Container) Count() int { return len(c.names) }

// Names returns the entry names in insertion order.
func (c *Container) Names() []string {
	out := make([]string, len(c.names))
	copy(out, c.names)
	return out
}

// Entries returns the entries in insertion order.
func (c *Container) Entries() []*Entry {
	out := make([]*Entry, 0, len(c.names))
	for _, name := range c.names {
		out = append(out, c.entries[name])
	}
	return out
}

// Has reports whether a named entry exists.
func (c *Container) Has(name string) bool {
	_, ok := c.entries[name]
	return ok
}

// Get returns the named entry.
func (c *Container) Get(name string) (*Entry, error) {
	e, ok := c.entries[name]
	if !ok {
		return nil, &EntryNotFoundError{Name: name}
	}
	return e, nil
}

// PutEntry inserts an entry, replacing any existing entry with the same
// name in place.
func (c *Container) PutEntry(e *Entry) {
	if _, ok := c.entries[e.name]; !ok {
		c.names = append(c.names, e.name)
	}
	c.entries[e.name] = e
}

// PutBytes adds a file entry with the given content, replacing any
// existing entry with the same name. The returned entry can be further
// configured with its setters before the archive is written.
func (c *Container) PutBytes(name string, data []byte) (*Entry, error) {
	e, err := NewEntry(name)
	if err != nil {
		return nil, err
	}
	if e.IsDir() {
		if len(data) != 0 {
			return nil, fmt.Errorf("zipfile: directory entry %q with content", name)
		}
	} else {
		e.data = &bytesData{b: data}
		e.uncompressedSize = uint64(len(data))
	}
	c.PutEntry(e)
	return e, nil
}

// PutReader adds a file entry whose content is drained from r when the
// archive is written. The entry is always written with a data descriptor;
// a size reported by r through a Size method only sets the entry's
// uncompressed size until then.
func (c *Container) PutReader(name string, r io.Reader) (*Entry, error) {
	e, err := NewEntry(name)
	if err != nil {
		return nil, err
	}
	if e.IsDir() {
		return nil, fmt.Errorf("zipfile: directory entry %q with content", name)
	}
	e.data = &readerData{r: r}
	if n, ok := e.data.size(); ok {
		e.uncompressedSize = n
	}
	c.PutEntry(e)
	return e, nil
}

// PutDir adds a directory entry. A trailing slash is appended when
// missing.
func (c *Container) PutDir(name string) (*Entry, error) {
	if !strings.HasSuffix(name, "/") {
		name += "/"
	}
	e, err := NewEntry(name)
	if err != nil {
		return nil, err
	}
	c.PutEntry(e)
	return e, nil
}

// Delete removes the named entry.
func (c *Container) Delete(name string) error {
	if _, ok := c.entries[name]; !ok {
		return &EntryNotFoundError{Name: name}
	}
	c.remove(name)
	return nil
}

func (c *Container) remove(name string) {
	delete(c.entries, name)
	for i, n := range c.names {
		if n == name {
			c.names = append(c.names[:i], c.names[i+1:]...)
			return
		}
	}
}

// DeleteRegexp removes every entry whose name matches the pattern and
// returns the number of entries removed.
func (c *Container) DeleteRegexp(re *regexp.Regexp) int {
	var victims []string
	for _, name := range c.names {
		if re.MatchString(name) {
			victims = append(victims, name)
		}
	}
	for _, name := range victims {
		c.remove(name)
	}
	return len(victims)
}

// Rename gives an entry a new name, keeping its position in the archive.
// It fails with ErrDuplicateEntry when the target name is taken.
func (c *Container) Rename(oldName, newName string) error {
	e, ok := c.entries[oldName]
	if !ok {
		return &EntryNotFoundError{Name: oldName}
	}
	if oldName == newName {
		return nil
	}
	if _, ok := c.entries[newName]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateEntry, newName)
	}
	renamed, err := e.Rename(newName)
	if err != nil {
		return err
	}
	delete(c.entries, oldName)
	c.entries[newName] = renamed
	for i, n := range c.names {
		if n == oldName {
			c.names[i] = newName
			break
		}
	}
	return nil
}

// SortByName reorders the entries by name using the given comparison,
// which must return true when a sorts before b. Entries are written to the
// output in this order.
func (c *Container) SortByName(less func(a, b string) bool) {
	sort.SliceStable(c.names, func(i, j int) bool {
		return less(c.names[i], c.names[j])
	})
}

// SortByEntry reorders the entries using a comparison over the entries
// themselves.
func (c *Container) SortByEntry(less func(a, b *Entry) bool) {
	sort.SliceStable(c.names, func(i, j int) bool {
		return less(c.entries[c.names[i]], c.entries[c.names[j]])
	})
}

// ArchiveComment returns the archive comment.
func (c *Container) ArchiveComment() string { return c.comment }

// SetArchiveComment sets the archive comment, at most 65535 bytes.
func (c *Container) SetArchiveComment(comment string) error {
	if len(comment) > uint16max {
		return errLongComment
	}
	c.comment = comment
	return nil
}

// SetReadPassword sets the password used to decrypt every encrypted entry
// that came from the source archive. It does not change any entry's
// encryption state, so unmodified entries are still copied raw on write.
func (c *Container) SetReadPassword(password string) {
	if len(password) > maxPasswordLen {
		password = password[:maxPasswordLen]
	}
	pw := []byte(password)
	for _, e := range c.entries {
		if _, ok := e.data.(*sourceData); ok && e.IsEncrypted() {
			e.password = append([]byte(nil), pw...)
		}
	}
	if c.source == nil {
		return
	}
	for _, e := range c.source.entries {
		if e.IsEncrypted() {
			e.password = append([]byte(nil), pw...)
		}
	}
}

// SetReadPasswordEntry sets the decryption password for a single entry.
func (c *Container) SetReadPasswordEntry(name, password string) error {
	e, ok := c.entries[name]
	if !ok {
		return &EntryNotFoundError{Name: name}
	}
	if len(password) > maxPasswordLen {
		password = password[:maxPasswordLen]
	}
	e.password = []byte(password)
	if c.source != nil {
		if base, ok := c.source.entries[name]; ok && base.IsEncrypted() {
			base.password = []byte(password)
		}
	}
	return nil
}

// RevertAll discards every pending change, restoring the state of the
// archive at open time. For a container created with New it empties the
// container.
func (c *Container) RevertAll() {
	c.entries = make(map[string]*Entry)
	c.names = nil
	c.comment = ""
	if c.source == nil {
		return
	}
	for _, name := range c.source.names {
		c.PutEntry(c.source.entries[name].clone())
	}
	c.comment = c.source.comment
}

// RevertComment restores the archive comment to its state at open time.
func (c *Container) RevertComment() {
	if c.source != nil {
		c.comment = c.source.comment
	} else {
		c.comment = ""
	}
}

// RevertEntry restores a single entry from the baseline snapshot,
// discarding any mutation, rename or deletion. Entries with no baseline
// (added after open) are left untouched. A renamed directory entry keeps
// its new name, as directories carry no source data to match it by.
func (c *Container) RevertEntry(name string) {
	if c.source == nil {
		return
	}
	base, ok := c.source.entries[name]
	if !ok {
		return
	}
	// A renamed copy of the same source entry gives way to the original.
	if bd, ok := base.data.(*sourceData); ok && !c.Has(name) {
		for _, n := range c.names {
			if sd, ok := c.entries[n].data.(*sourceData); ok && sd.headerOffset == bd.headerOffset {
				c.remove(n)
				break
			}
		}
	}
	c.PutEntry(base.clone())
}

// GetBytes decodes the named entry and returns its plaintext content.
func (c *Container) GetBytes(name string) ([]byte, error) {
	r, err := c.OpenEntry(name)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// OpenEntry returns a reader over the named entry's plaintext content.
// For an entry read from an archive this decrypts and decompresses on the
// fly, verifying the checksum (or, for AES entries, the authentication
// tag) by the time the reader is drained.
func (c *Container) OpenEntry(name string) (io.ReadCloser, error) {
	e, ok := c.entries[name]
	if !ok {
		return nil, &EntryNotFoundError{Name: name}
	}
	// Source-backed entries decode through the baseline: pending changes
	// to method, password or encryption describe the next write, not the
	// bytes sitting in the source archive.
	if _, ok := e.data.(*sourceData); ok && c.source != nil {
		if base := c.source.entries[name]; base != nil {
			e = base
		} else if base := c.baselineForData(e); base != nil {
			e = base
		}
	}
	return openEntryData(e)
}

func openEntryData(e *Entry) (io.ReadCloser, error) {
	switch d := e.data.(type) {
	case nil:
		return nopCloser{bytes.NewReader(nil)}, nil
	case *bytesData:
		return nopCloser{bytes.NewReader(d.b)}, nil
	case *readerData:
		// One-shot stream; draining it consumes the caller's reader.
		if rc, ok := d.r.(io.ReadCloser); ok {
			return rc, nil
		}
		return nopCloser{d.r}, nil
	case *sourceData:
		return d.src.openDecoded(e, d)
	}
	return nil, fmt.Errorf("zipfile: entry %q has no data", e.name)
}

// Close releases the handle to the source archive, if any. Reading source
// entry content after Close fails.
func (c *Container) Close() error {
	if c.src == nil {
		return nil
	}
	return c.src.close()
}
