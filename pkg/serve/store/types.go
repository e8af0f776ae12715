// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"time"

	"github.com/antgroup/mono/modules/plumbing"
)

const (
	// MonoRepoPath is the synthetic repository path of the monorepo root.
	MonoRepoPath = "/"
)

// Ref is a named pointer to a commit, keyed by repository path. The
// monorepo keeps one ref rooted at "/" plus one per subtree path.
type Ref struct {
	Path          string        `json:"path"`
	Name          string        `json:"name"`
	CommitHash    plumbing.Hash `json:"commit_hash"`
	TreeHash      plumbing.Hash `json:"tree_hash"`
	DefaultBranch bool          `json:"default_branch"`
}

type MergeRequestStatus string

const (
	MergeRequestOpen   MergeRequestStatus = "open"
	MergeRequestMerged MergeRequestStatus = "merged"
	MergeRequestClosed MergeRequestStatus = "closed"
)

// MergeRequest gates adoption of staged mega-trees into the main ref.
// A push to a sub-path opens one; review merges or closes it.
type MergeRequest struct {
	ID        int64              `json:"id"`
	Path      string             `json:"path"`
	FromHash  plumbing.Hash      `json:"from_hash"`
	ToHash    plumbing.Hash      `json:"to_hash"`
	Status    MergeRequestStatus `json:"status"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// MegaTree is one staged tree row: a proposed rewrite on the path from a
// pushed subtree up to root, adopted only when its merge request merges.
type MegaTree struct {
	Hash     plumbing.Hash      `json:"hash"`
	MRID     int64              `json:"mr_id"`
	Status   MergeRequestStatus `json:"status"`
	FullPath string             `json:"full_path"`
	Name     string             `json:"name"`
	Items    []byte             `json:"-"`
}

// RefCommand is one receive-pack ref update: create when OldRev is all
// zeros, delete when NewRev is, compare-and-swap otherwise.
type RefCommand struct {
	RefName string
	OldRev  string
	NewRev  string
}

func (c *RefCommand) IsCreate() bool {
	return c.OldRev == plumbing.ZERO_OID
}

func (c *RefCommand) IsDelete() bool {
	return c.NewRev == plumbing.ZERO_OID
}
