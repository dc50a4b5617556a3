// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Command contentrec is a smoke-test CLI over the content-recovery
// engine: point it at a directory of content-pack files (named by
// their decimal FileID) and it loads them, reports loader errors, and
// lets you spew or query the resulting graph.
package main

import (
	"context"
	"os"

	"github.com/datawire/dlib/dgroup"
	"github.com/datawire/dlib/dlog"
	"github.com/spf13/cobra"

	"github.com/xvwyh/GW2Viewer-sub000/internal/profile"
	"github.com/xvwyh/GW2Viewer-sub000/internal/textui"
)

// subcommand mirrors the teacher's own subcommand shape
// (cmd/btrfs-rec/main.go): a cobra.Command plus a typed RunE that
// receives the already-assembled dependency (there: *btrfs.FS; here:
// *session) instead of re-parsing flags itself.
type subcommand struct {
	cobra.Command
	RunE func(*session, *cobra.Command, []string) error
}

var subcommands []subcommand

func main() {
	logLevelFlag := textui.LogLevelFlag{Level: dlog.LogLevelInfo}
	var archiveDirFlag string

	argparser := &cobra.Command{
		Use:   "contentrec {[flags]|SUBCOMMAND}",
		Short: "Inspect a reverse-engineered game content archive",

		Args:          cobra.MatchAll(cobra.OnlyValidArgs, cobra.NoArgs),
		SilenceErrors: true,
		SilenceUsage:  true,

		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
	argparser.PersistentFlags().Var(&logLevelFlag, "verbosity", "set the verbosity")
	argparser.PersistentFlags().StringVar(&archiveDirFlag, "archive-dir", "", "directory of content-pack files, named by decimal FileID")
	_ = argparser.MarkPersistentFlagRequired("archive-dir")
	_ = argparser.MarkPersistentFlagDirname("archive-dir")
	stopProfiling := profile.AddProfileFlags(argparser.PersistentFlags(), "profile-")

	for _, child := range subcommands {
		cmd := child.Command
		runE := child.RunE
		cmd.RunE = func(cmd *cobra.Command, args []string) (err error) {
			ctx := cmd.Context()
			logger := textui.NewLogger(os.Stderr, logLevelFlag.Level)
			ctx = dlog.WithLogger(ctx, logger)

			grp := dgroup.NewGroup(ctx, dgroup.GroupConfig{EnableSignalHandling: true})
			grp.Go("main", func(ctx context.Context) error {
				sess, err := openSession(ctx, archiveDirFlag)
				if err != nil {
					return err
				}
				defer func() {
					if cerr := sess.reader.Close(); cerr != nil {
						dlog.Warnf(ctx, "contentrec: closing archive dir: %v", cerr)
					}
				}()
				cmd.SetContext(ctx)
				return runE(sess, cmd, args)
			})
			return grp.Wait()
		}
		argparser.AddCommand(&cmd)
	}

	err := argparser.ExecuteContext(context.Background())
	if stopErr := stopProfiling(); err == nil {
		err = stopErr
	}
	if err != nil {
		textui.Fprintf(os.Stderr, "%v: error: %v\n", argparser.CommandPath(), err)
		os.Exit(1)
	}
}
