package main

import (
	"github.com/spf13/cobra"
)

var copyArgs opArgs

var copyCmd = &cobra.Command{
	Use:   "copy SRC... DST",
	Short: "Copy one or more paths or URLs to a destination",
	Long: `copy dispatches to whichever of the four transport arms the source and
destination sides require (working-copy-to-working-copy,
working-copy-to-repository, repository-to-working-copy, or
repository-to-repository), normalizing multiple sources against a single
destination directory.

Examples:
  vcscopy copy a/x a/y b --as-child
  vcscopy copy --peg-rev 5 file:///repo/trunk file:///repo/branches/v2
`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOp("copy", args, copyArgs, false)
	},
}

func init() {
	copyCmd.Flags().StringVar(&copyArgs.pegRev, "peg-rev", "", "peg revision for every source (HEAD, BASE, COMMITTED, PREV, WORKING, a number, or an RFC3339 date)")
	copyCmd.Flags().StringVarP(&copyArgs.opRev, "revision", "r", "", "operational revision for every source")
	copyCmd.Flags().BoolVar(&copyArgs.asChild, "as-child", false, "if the destination exists, copy into it as a new child instead of failing")
	copyCmd.Flags().StringVarP(&copyArgs.message, "message", "m", "", "commit log message, for commit-producing arms")
	copyCmd.Flags().StringVar(&copyArgs.authorName, "author", "", "override the committing author revprop")
	rootCmd.AddCommand(copyCmd)
}
