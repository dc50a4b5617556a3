// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"os"

	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/cobra"

	"github.com/xvwyh/GW2Viewer-sub000/internal/textui"
)

func init() {
	subcommands = append(subcommands, subcommand{
		Command: cobra.Command{
			Use:   "spew-types",
			Short: "Spew every registered ContentType as parsed",
			Args:  cobra.NoArgs,
		},
		RunE: func(sess *session, cmd *cobra.Command, _ []string) error {
			cfg := spew.NewDefaultConfig()
			cfg.DisablePointerAddresses = true

			for _, typ := range sess.Engine.Graph.Types {
				textui.Fprintf(os.Stdout, "type[%d] = ", typ.Index)
				cfg.Dump(typ)
			}
			return nil
		},
	})
}
