package main

import (
	"github.com/spf13/cobra"
)

var moveArgs opArgs
var moveForce bool

var moveCmd = &cobra.Command{
	Use:   "move SRC... DST",
	Short: "Move one or more paths or URLs to a destination, preserving history",
	Long: `move is a copy followed by a delete of each non-resurrection source,
driven as a single commit on repository-sided arms. Moves may not cross
sides (a local source cannot move to a URL destination or vice versa) and
a source may not be a prefix of the destination.

Examples:
  vcscopy move a b/a --as-child
  vcscopy move file:///repo/trunk/old file:///repo/trunk/new -m "rename"
`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOp("move", args, moveArgs, true)
	},
}

func init() {
	moveCmd.Flags().StringVar(&moveArgs.pegRev, "peg-rev", "", "peg revision for every source")
	moveCmd.Flags().StringVarP(&moveArgs.opRev, "revision", "r", "", "operational revision for every source")
	moveCmd.Flags().BoolVar(&moveArgs.asChild, "as-child", false, "if the destination exists, move into it as a new child instead of failing")
	moveCmd.Flags().StringVarP(&moveArgs.message, "message", "m", "", "commit log message, for commit-producing arms")
	moveCmd.Flags().StringVar(&moveArgs.authorName, "author", "", "override the committing author revprop")
	moveCmd.Flags().BoolVarP(&moveForce, "force", "f", false, "allow moving a source with local modifications (caller-interpreted; the dispatch core does not read this flag)")
	rootCmd.AddCommand(moveCmd)
}
