package zipfile

import (
	"regexp"
)

// A Matcher selects a subset of a container's entries and applies bulk
// operations to them. Selectors accumulate: Add, Match and All union
// their results. Selection happens at call time; entries added to the
// container afterwards are not selected retroactively.
type Matcher struct {
	c     *Container
	names []string
	seen  map[string]bool
}

// Matcher returns an empty matcher over the container.
func (c *Container) Matcher() *Matcher {
	return &Matcher{c: c, seen: make(map[string]bool)}
}

func (m *Matcher) add(name string) {
	if m.seen[name] {
		return
	}
	m.seen[name] = true
	m.names = append(m.names, name)
}

// Add selects the named entries. Names that do not exist in the container
// are ignored.
func (m *Matcher) Add(names ...string) *Matcher {
	for _, name := range names {
		if m.c.Has(name) {
			m.add(name)
		}
	}
	return m
}

// Match selects every entry whose name matches the pattern.
func (m *Matcher) Match(re *regexp.Regexp) *Matcher {
	for _, name := range m.c.names {
		if re.MatchString(name) {
			m.add(name)
		}
	}
	return m
}

// All selects every entry.
func (m *Matcher) All() *Matcher {
	for _, name := range m.c.names {
		m.add(name)
	}
	return m
}

// Count returns the number of selected entries still present in the
// container.
func (m *Matcher) Count() int {
	n := 0
	for _, name := range m.names {
		if m.c.Has(name) {
			n++
		}
	}
	return n
}

// Names returns the selected entry names in selection order, skipping
// entries deleted since selection.
func (m *Matcher) Names() []string {
	out := make([]string, 0, len(m.names))
	for _, name := range m.names {
		if m.c.Has(name) {
			out = append(out, name)
		}
	}
	return out
}

// Invoke calls fn for each selected entry.
func (m *Matcher) Invoke(fn func(e *Entry)) {
	for _, name := range m.Names() {
		fn(m.c.entries[name])
	}
}

// InvokeErr calls fn for each selected entry, stopping at the first
// error.
func (m *Matcher) InvokeErr(fn func(e *Entry) error) error {
	for _, name := range m.Names() {
		if err := fn(m.c.entries[name]); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes the selected entries from the container and returns the
// number removed.
func (m *Matcher) Delete() int {
	names := m.Names()
	for _, name := range names {
		m.c.remove(name)
	}
	return len(names)
}

// SetPassword sets the password (and optionally the encryption method) on
// every selected entry. Directory entries are skipped.
func (m *Matcher) SetPassword(password string, method ...EncryptionMethod) error {
	return m.InvokeErr(func(e *Entry) error {
		if e.IsDir() {
			return nil
		}
		return e.SetPassword(password, method...)
	})
}

// SetEncryptionMethod switches the encryption method on every selected
// entry that already carries a password. Directory entries are skipped.
func (m *Matcher) SetEncryptionMethod(method EncryptionMethod) error {
	return m.InvokeErr(func(e *Entry) error {
		if e.IsDir() || e.password == nil {
			return nil
		}
		return e.SetPassword(string(e.password), method)
	})
}

// DisableEncryption strips encryption from the selected entries.
func (m *Matcher) DisableEncryption() {
	m.Invoke(func(e *Entry) {
		e.DisableEncryption()
	})
}
