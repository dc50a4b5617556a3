// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/xvwyh/GW2Viewer-sub000/internal/guid"
	"github.com/xvwyh/GW2Viewer-sub000/internal/textui"
)

func init() {
	cmd := cobra.Command{
		Use:   "query GUID PATH",
		Short: "Resolve a GUID and run a symbol-path query (§4.7) against it",
		Args:  cobra.ExactArgs(2),
	}

	subcommands = append(subcommands, subcommand{
		Command: cmd,
		RunE: func(sess *session, cmd *cobra.Command, args []string) error {
			id, err := guid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("contentrec: %w", err)
			}
			obj, ok := sess.Engine.GetObjectByGUID(id)
			if !ok {
				return fmt.Errorf("contentrec: no object with GUID %s", id)
			}

			textui.Fprintf(os.Stdout, "object: %s\n", sess.Engine.GetDisplayName(obj))

			results, err := sess.Engine.Query(obj, args[1])
			if err != nil {
				return fmt.Errorf("contentrec: query: %w", err)
			}
			for _, r := range results {
				textui.Fprintf(os.Stdout, "%s = % x", r.Path, r.Bytes)
				if r.ResolvedText != "" {
					textui.Fprintf(os.Stdout, " (%s)", r.ResolvedText)
				}
				fmt.Fprintln(os.Stdout)
			}
			return nil
		},
	})
}
