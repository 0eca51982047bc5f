package cmd

import (
	"github.com/spf13/cobra"

	"github.com/tgdrive/qdrop/internal/version"
)

func NewVersion() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Check the version info",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.Print(version.Get().String())
			return nil
		},
	}
}
