package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/sells-group/campaign-warehouse/internal/source"
)

var profilesCmd = &cobra.Command{
	Use:   "profiles [source...]",
	Short: "Print the effective source profiles as YAML",
	Long:  "Prints the built-in profiles with any profiles.file overrides applied. The output is a valid override file.",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := initRegistry()
		if err != nil {
			return err
		}

		set := reg.Profiles()
		if len(args) > 0 {
			set = source.ProfileSet{}
			for _, name := range args {
				src, err := reg.Get(name)
				if err != nil {
					return err
				}
				set[name] = src.Profile()
			}
		}
		return source.EncodeProfiles(os.Stdout, set)
	},
}

func init() {
	rootCmd.AddCommand(profilesCmd)
}
