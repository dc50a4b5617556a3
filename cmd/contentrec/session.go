// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"fmt"

	"github.com/datawire/dlib/dlog"
	"github.com/pkg/errors"

	"github.com/xvwyh/GW2Viewer-sub000/pkg/archive"
	"github.com/xvwyh/GW2Viewer-sub000/pkg/engine"
	"github.com/xvwyh/GW2Viewer-sub000/pkg/keystore"
)

// session bundles an assembled engine with the command-line context
// every subcommand needs. It's the CLI's counterpart to the teacher's
// *btrfs.FS argument threaded through each subcommand's RunE.
type session struct {
	Engine *engine.Engine
	reader *archive.DirReader
}

// openSession indexes dir as a disk-backed archive.DirReader (every
// regular file directly inside it, named by its decimal archive.FileID),
// loads them all as content-pack files with the lowest FileID as
// root, and runs the loader to completion.
func openSession(ctx context.Context, dir string) (*session, error) {
	reader, err := archive.OpenDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, "contentrec: reading archive dir")
	}

	var ids []archive.FileID
	for _, rec := range reader.GetFiles() {
		ids = append(ids, rec.ID)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("contentrec: no content-pack files found in %q", dir)
	}

	root := ids[0]
	for _, id := range ids {
		if id < root {
			root = id
		}
	}

	// §3.1: pointer width is a property of the archive format itself
	// (32-bit vs 64-bit game client build); this CLI only ever drives
	// the 64-bit form, matching the archive this tree was reverse
	// engineered against.
	const ptrWidth = 8
	eng := engine.New(archive.NewCachingReader(reader, 128), keystore.New(), ptrWidth)

	if err := eng.LoadContentFiles(ids, root); err != nil {
		return nil, errors.Wrap(err, "contentrec: loading content files")
	}
	if err := eng.Run(); err != nil {
		return nil, errors.Wrap(err, "contentrec: running content loader")
	}
	for _, loadErr := range eng.LoaderErrors() {
		dlog.Warnf(ctx, "contentrec: loader: %v", loadErr)
	}

	return &session{Engine: eng, reader: reader}, nil
}
