// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package object

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/antgroup/mono/modules/plumbing"
	"github.com/antgroup/mono/modules/plumbing/filemode"
	"github.com/antgroup/mono/modules/streamio"
)

const (
	maxTreeDepth = 1024
)

var (
	ErrMaxTreeDepth = errors.New("maximum tree depth exceeded")
)

type ErrEntryNotFound struct {
	entry string
}

func (e *ErrEntryNotFound) Error() string {
	return fmt.Sprintf("entry '%s' not found", e.entry)
}

func IsErrEntryNotFound(err error) bool {
	if err == nil {
		return false
	}
	_, ok := err.(*ErrEntryNotFound)
	return ok
}

// TreeEntry represents a file or a subtree
type TreeEntry struct {
	Name string            `json:"name"`
	Mode filemode.FileMode `json:"mode"`
	Hash plumbing.Hash     `json:"hash"`
}

func (e *TreeEntry) Clone() *TreeEntry {
	return &TreeEntry{
		Name: e.Name,
		Mode: e.Mode,
		Hash: e.Hash,
	}
}

// Equal returns whether the receiving and given TreeEntry instances are
// identical in name, filemode, and OID.
func (e *TreeEntry) Equal(other *TreeEntry) bool {
	if (e == nil) != (other == nil) {
		return false
	}

	if e != nil {
		return e.Name == other.Name &&
			bytes.Equal(e.Hash[:], other.Hash[:]) &&
			e.Mode == other.Mode
	}
	return true
}

func (e *TreeEntry) Type() ObjectType {
	switch e.Mode {
	case filemode.Dir:
		return TreeObject
	case filemode.Submodule:
		return CommitObject
	default:
	}
	return BlobObject
}

func (e *TreeEntry) IsDir() bool {
	return e.Mode == filemode.Dir
}

// SubtreeOrder is an implementation of sort.Interface that sorts a set of
// `*TreeEntry`'s according to "subtree" order. This ordering is required to
// write trees in a correct, readable format to the Git object database.
//
// The format is as follows: entries are sorted lexicographically in byte-order,
// with subtrees (entries of Type() == TreeObject) being sorted as
// if their `Name` fields ended in a "/".
//
// See: https://github.com/git/git/blob/v2.13.0/fsck.c#L492-L525 for more
// details.
type SubtreeOrder []*TreeEntry

// Len implements sort.Interface.Len() and return the length of the underlying
// slice.
func (s SubtreeOrder) Len() int { return len(s) }

// Swap implements sort.Interface.Swap() and swaps the two elements at i and j.
func (s SubtreeOrder) Swap(i, j int) { s[i], s[j] = s[j], s[i] }

// Less implements sort.Interface.Less() and returns whether the element at "i"
// is compared as "less" than the element at "j". In other words, it returns if
// the element at "i" should be sorted ahead of that at "j".
//
// It performs this comparison in lexicographic byte-order according to the
// rules above (see SubtreeOrder).
func (s SubtreeOrder) Less(i, j int) bool {
	return s.Name(i) < s.Name(j)
}

// Name returns the name for a given entry indexed at "i", which is a C-style
// string ('\0' terminated unless it's a subtree), optionally terminated with
// '/' if it's a subtree.
//
// This is done because '\0' sorts ahead of '/', so a file sorts before a
// subtree of the same name, which is compatible with the tree order in
// upstream Git.
func (s SubtreeOrder) Name(i int) string {
	if i < 0 || i >= len(s) {
		return ""
	}

	entry := s[i]

	if entry.Type() == TreeObject {
		return entry.Name + "/"
	}
	return entry.Name + "\x00"
}

// Tree is basically like a directory - it references a bunch of other trees
// and/or blobs (i.e. files and sub-directories)
type Tree struct {
	Hash    plumbing.Hash `json:"hash"`
	Entries []*TreeEntry  `json:"entries"`

	m map[string]*TreeEntry
}

// NewTree sorts entries into subtree order and stamps the tree with its
// content address.
func NewTree(entries []*TreeEntry) *Tree {
	sort.Sort(SubtreeOrder(entries))
	t := &Tree{Entries: entries}
	t.Hash = Hash(TreeObject, t)
	return t
}

func (t *Tree) Entry(name string) (*TreeEntry, error) {
	if t.m == nil {
		t.buildMap()
	}

	entry, ok := t.m[name]
	if !ok {
		return nil, &ErrEntryNotFound{entry: name}
	}

	return entry, nil
}

func (t *Tree) buildMap() {
	t.m = make(map[string]*TreeEntry)
	for i := range t.Entries {
		t.m[t.Entries[i].Name] = t.Entries[i]
	}
}

// Replace returns a copy of the tree in which the entry carrying the given
// name points at newHash, re-sorted and re-hashed. The second return is
// false when no entry matches.
func (t *Tree) Replace(name string, newHash plumbing.Hash) (*Tree, bool) {
	entries := make([]*TreeEntry, 0, len(t.Entries))
	var found bool
	for _, e := range t.Entries {
		ne := e.Clone()
		if ne.Name == name {
			ne.Hash = newHash
			found = true
		}
		entries = append(entries, ne)
	}
	if !found {
		return nil, false
	}
	return NewTree(entries), true
}

// Equal returns whether the receiving and given trees are equal, or in other
// words, whether they are represented by the same SHA-1 when saved to the
// object database.
func (t *Tree) Equal(other *Tree) bool {
	if (t == nil) != (other == nil) {
		return false
	}

	if t != nil {
		if len(t.Entries) != len(other.Entries) {
			return false
		}

		for i := range t.Entries {
			if !t.Entries[i].Equal(other.Entries[i]) {
				return false
			}
		}
	}
	return true
}

// Encode writes the canonical tree body: for each entry an octal mode, a
// space, the name, a NUL and the raw child hash.
func (t *Tree) Encode(w io.Writer) error {
	for _, entry := range t.Entries {
		if _, err := fmt.Fprintf(w, "%s %s", entry.Mode.Origin(), entry.Name); err != nil {
			return err
		}

		if _, err := w.Write([]byte{0x00}); err != nil {
			return err
		}

		if _, err := w.Write(entry.Hash[:]); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tree) Decode(reader Reader) error {
	if reader.Type() != TreeObject {
		return ErrUnsupportedObject
	}
	t.Hash = reader.Hash()
	r := streamio.GetBufioReader(reader)
	defer streamio.PutBufioReader(r)

	t.Entries = nil
	t.m = nil
	for {
		str, err := r.ReadString(' ')
		if err != nil {
			if err == io.EOF {
				break
			}

			return err
		}
		str = str[:len(str)-1] // strip last byte (' ')

		mode, err := filemode.New(str)
		if err != nil {
			return err
		}

		name, err := r.ReadString(0)
		if err != nil {
			return err
		}

		var hash plumbing.Hash
		if _, err = io.ReadFull(r, hash[:]); err != nil {
			return err
		}

		t.Entries = append(t.Entries, &TreeEntry{
			Name: name[:len(name)-1],
			Mode: mode,
			Hash: hash,
		})
	}
	return nil
}
