// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/xvwyh/GW2Viewer-sub000/internal/textui"
	"github.com/xvwyh/GW2Viewer-sub000/pkg/content"
)

func init() {
	subcommands = append(subcommands, subcommand{
		Command: cobra.Command{
			Use:   "load",
			Short: "Load the archive and report graph statistics",
			Args:  cobra.NoArgs,
		},
		RunE: func(sess *session, cmd *cobra.Command, _ []string) error {
			g := sess.Engine.Graph
			objects, namespaces := countGraph(g.RootNamespace)

			textui.Fprintf(os.Stdout, "types: %d\n", len(g.Types))
			textui.Fprintf(os.Stdout, "namespaces: %d\n", namespaces)
			textui.Fprintf(os.Stdout, "objects (direct entries): %d\n", objects)
			textui.Fprintf(os.Stdout, "loaded: %t\n", sess.Engine.Loaded())
			textui.Fprintf(os.Stdout, "loader errors: %d\n", len(sess.Engine.LoaderErrors()))
			return nil
		},
	})
}

// countGraph walks the namespace tree rooted at ns, counting direct
// entries and namespace nodes.
func countGraph(ns *content.ContentNamespace) (objects, namespaces int) {
	if ns == nil {
		return 0, 0
	}
	namespaces = 1
	objects = len(ns.Entries)
	for _, child := range ns.Children {
		o, n := countGraph(child)
		objects += o
		namespaces += n
	}
	return objects, namespaces
}
