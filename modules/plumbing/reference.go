package plumbing

import (
	"errors"
	"strings"
)

const (
	ReferencePrefix = "refs/"
	refHeadPrefix   = ReferencePrefix + "heads/"
	refTagPrefix    = ReferencePrefix + "tags/"
)

var (
	ErrReferenceNotFound = errors.New("reference does not exist")
)

const (
	HEAD ReferenceName = "HEAD"
	// MEGA_BRANCH_NAME is the conventional default branch of the monorepo.
	MEGA_BRANCH_NAME = "main"
)

// ReferenceName reference name's
type ReferenceName string

// NewBranchReferenceName returns a reference name describing a branch based on
// his short name.
func NewBranchReferenceName(name string) ReferenceName {
	return ReferenceName(refHeadPrefix + name)
}

// NewTagReferenceName returns a reference name describing a tag based on short
// his name.
func NewTagReferenceName(name string) ReferenceName {
	return ReferenceName(refTagPrefix + name)
}

// IsBranch check if a reference is a branch
func (r ReferenceName) IsBranch() bool {
	return strings.HasPrefix(string(r), refHeadPrefix)
}

func (r ReferenceName) BranchName() string {
	return strings.TrimPrefix(string(r), refHeadPrefix)
}

// IsTag check if a reference is a tag
func (r ReferenceName) IsTag() bool {
	return strings.HasPrefix(string(r), refTagPrefix)
}

func (r ReferenceName) TagName() string {
	return strings.TrimPrefix(string(r), refTagPrefix)
}

func (r ReferenceName) HasReferencePrefix() bool {
	return strings.HasPrefix(string(r), ReferencePrefix)
}

func (r ReferenceName) String() string {
	return string(r)
}

// Short returns the short name of a ReferenceName
func (r ReferenceName) Short() string {
	s := string(r)
	if v, ok := strings.CutPrefix(s, refHeadPrefix); ok {
		return v
	}
	if v, ok := strings.CutPrefix(s, refTagPrefix); ok {
		return v
	}
	return s
}
