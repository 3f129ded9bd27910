package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mrecords121/ephyr/internal/conf"
	"github.com/mrecords121/ephyr/internal/state"
)

func exportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Print the persisted state as a spec document",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := conf.Load(configFile)
			if err != nil {
				return err
			}
			cur, err := state.Load(settings.StatePath)
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(state.ExportAll(cur), "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		},
	}
}
