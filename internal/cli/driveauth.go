package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/codebuildervaibhav/podcast-animator/internal/storage"
)

func NewDriveAuthCmd(deps *Dependencies) *cobra.Command {
	var code string

	cmd := &cobra.Command{
		Use:   "drive-auth",
		Short: "Authorize Google Drive uploads",
		Long:  "Without --code, prints the consent URL. Open it, approve access, then run again with --code to cache the token.",
		RunE: func(cmd *cobra.Command, args []string) error {
			gd := deps.Config.GoogleDrive
			out := cmd.OutOrStdout()

			if code == "" {
				url, err := storage.DriveAuthURL(gd.CredentialsFile)
				if err != nil {
					return err
				}
				writeLine(out, "Open this URL, approve access, then rerun with --code:")
				writeLine(out, url)
				return nil
			}

			if err := storage.ExchangeDriveCode(cmd.Context(), gd.CredentialsFile, gd.TokenFile, code); err != nil {
				return err
			}
			writeLine(out, fmt.Sprintf("Token saved to %s", gd.TokenFile))
			return nil
		},
	}

	cmd.Flags().StringVar(&code, "code", "", "Authorization code from the consent page")
	return cmd
}
