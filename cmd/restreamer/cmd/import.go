package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/mrecords121/ephyr/internal/conf"
	"github.com/mrecords121/ephyr/internal/state"
)

func importCommand() *cobra.Command {
	var replace bool

	cmd := &cobra.Command{
		Use:   "import <spec-file>",
		Short: "Apply a spec document to the persisted state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			spec, err := state.ParseSpec(data)
			if err != nil {
				return err
			}

			settings, err := conf.Load(configFile)
			if err != nil {
				return err
			}
			store, err := state.Open(settings.StatePath)
			if err != nil {
				return err
			}
			_, err = store.Apply(state.Import(*spec, nil, replace))
			return err
		},
	}

	cmd.Flags().BoolVar(&replace, "replace", false, "drop pre-existing restreams whose keys are not in the spec")
	return cmd
}
