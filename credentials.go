package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wavemigrate/wavemigrate/internal/auth"
	"github.com/wavemigrate/wavemigrate/internal/config"
)

// addCredentialsFlag registers --credentials on commands that read source
// credentials from the environment.
func addCredentialsFlag(cmd *cobra.Command) {
	cmd.Flags().String("credentials", "",
		"credential file written by export --credentials-out; its tokens replace the environment's")
}

// loadSourceCredentials reads WAVEMIGRATE_* credentials, then lets a captured
// credential file supply a fresher token pair and identity.
func loadSourceCredentials(cmd *cobra.Command) (config.SourceCredentials, error) {
	creds, err := config.ReadSourceCredentials()
	if err != nil {
		return creds, err
	}

	path, err := cmd.Flags().GetString("credentials")
	if err != nil {
		return creds, err
	}

	if path != "" {
		saved, meta, err := auth.LoadCredentials(path)
		if err != nil {
			return creds, err
		}

		if saved == nil {
			return creds, fmt.Errorf("credential file %s not found", path)
		}

		creds.AccessToken = saved.AccessToken
		creds.RefreshToken = saved.RefreshToken

		if v := meta["user_id"]; v != "" {
			creds.UserID = v
		}

		if v := meta["participant"]; v != "" {
			creds.Participant = v
		}
	}

	if err := creds.Validate(); err != nil {
		return creds, err
	}

	return creds, nil
}
