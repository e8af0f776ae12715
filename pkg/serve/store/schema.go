// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"
)

// Logical schema of the object store. Blobs are content-addressed and
// global; everything else is scoped by repository path. mega_tree holds
// staged ancestor rewrites awaiting merge-request review.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS raw_blob (
		sha1 varchar(40) NOT NULL,
		content longblob NOT NULL,
		size bigint NOT NULL,
		PRIMARY KEY (sha1)
	)`,
	`CREATE TABLE IF NOT EXISTS repo_blob (
		repo_path varchar(255) NOT NULL,
		sha1 varchar(40) NOT NULL,
		size bigint NOT NULL,
		PRIMARY KEY (repo_path, sha1)
	)`,
	`CREATE TABLE IF NOT EXISTS commits (
		repo_path varchar(255) NOT NULL,
		hash varchar(40) NOT NULL,
		tree_hash varchar(40) NOT NULL,
		parents text NOT NULL,
		author varchar(320) NOT NULL,
		committer varchar(320) NOT NULL,
		bindata mediumtext NOT NULL,
		created_at datetime NOT NULL,
		PRIMARY KEY (repo_path, hash)
	)`,
	`CREATE TABLE IF NOT EXISTS trees (
		repo_path varchar(255) NOT NULL,
		hash varchar(40) NOT NULL,
		bindata mediumtext NOT NULL,
		created_at datetime NOT NULL,
		PRIMARY KEY (repo_path, hash)
	)`,
	`CREATE TABLE IF NOT EXISTS tags (
		repo_path varchar(255) NOT NULL,
		hash varchar(40) NOT NULL,
		object_id varchar(40) NOT NULL,
		kind varchar(16) NOT NULL,
		name varchar(255) NOT NULL,
		tagger varchar(320) NOT NULL,
		bindata mediumtext NOT NULL,
		created_at datetime NOT NULL,
		PRIMARY KEY (repo_path, hash)
	)`,
	`CREATE TABLE IF NOT EXISTS refs (
		id bigint NOT NULL AUTO_INCREMENT,
		path varchar(255) NOT NULL,
		name varchar(255) NOT NULL,
		commit_hash varchar(40) NOT NULL,
		tree_hash varchar(40) NOT NULL,
		default_branch tinyint(1) NOT NULL DEFAULT 0,
		created_at datetime NOT NULL,
		updated_at datetime NOT NULL,
		PRIMARY KEY (id),
		UNIQUE KEY uk_path_name (path, name)
	)`,
	`CREATE TABLE IF NOT EXISTS mega_tree (
		id bigint NOT NULL AUTO_INCREMENT,
		hash varchar(40) NOT NULL,
		mr_id bigint NOT NULL,
		status varchar(16) NOT NULL,
		full_path varchar(255) NOT NULL,
		name varchar(255) NOT NULL,
		bindata mediumtext NOT NULL,
		created_at datetime NOT NULL,
		PRIMARY KEY (id),
		KEY idx_mr (mr_id)
	)`,
	`CREATE TABLE IF NOT EXISTS merge_request (
		id bigint NOT NULL AUTO_INCREMENT,
		path varchar(255) NOT NULL,
		from_hash varchar(40) NOT NULL,
		to_hash varchar(40) NOT NULL,
		status varchar(16) NOT NULL,
		created_at datetime NOT NULL,
		updated_at datetime NOT NULL,
		PRIMARY KEY (id),
		KEY idx_path_status (path, status)
	)`,
}

// InitSchema creates any missing tables.
func (s *mysqlStore) InitSchema(ctx context.Context) error {
	for _, ddl := range schema {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table error: %w", err)
		}
	}
	return nil
}
