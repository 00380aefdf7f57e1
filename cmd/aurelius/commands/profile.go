package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/RMahshie/aurelius/internal/storage"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Inspect saved profiles",
}

var profileShowCmd = &cobra.Command{
	Use:   "show <profile|s3://key>",
	Short: "Print a saved profile",
	Long: `Print a saved profile's band gains. For an s3:// reference a presigned
download URL valid for 24 hours is printed as well.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx, globalCfg)
		if err != nil {
			return err
		}
		defer a.Close()

		orch, err := a.orchestrator(nullDevice(), cmd.OutOrStdout(), nil)
		if err != nil {
			return err
		}
		p, err := orch.LoadProfile(ctx, args[0])
		if err != nil {
			return err
		}
		printProfile(cmd.OutOrStdout(), p)

		if _, ok := storage.ParseURI(args[0]); ok {
			url, err := orch.ProfileURL(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\nDownload: %s\n", url)
		}
		return nil
	},
}

var profileDeleteCmd = &cobra.Command{
	Use:   "delete <profile|s3://key>",
	Short: "Delete a saved profile or its backup",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx, globalCfg)
		if err != nil {
			return err
		}
		defer a.Close()

		orch, err := a.orchestrator(nullDevice(), cmd.OutOrStdout(), nil)
		if err != nil {
			return err
		}
		if err := orch.DeleteProfile(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
		return nil
	},
}

func init() {
	profileCmd.AddCommand(profileShowCmd)
	profileCmd.AddCommand(profileDeleteCmd)
}
