package sheets

import (
	"context"
	"fmt"
	"os"
	"strings"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"

	"crmsync/internal/config"
)

const (
	// OAuth2 scopes required to rewrite worksheets
	SpreadsheetsScope = "https://www.googleapis.com/auth/spreadsheets"
	DriveScope        = "https://www.googleapis.com/auth/drive"
)

// LoadCredentials builds service-account credentials from the inline JSON
// or, failing that, the credentials file.
func LoadCredentials(ctx context.Context, cfg config.GoogleConfig) (*google.Credentials, error) {
	data := []byte(cfg.CredentialsJSON)
	if strings.TrimSpace(cfg.CredentialsJSON) == "" {
		if cfg.CredentialsFile == "" {
			return nil, config.NewConfigurationError("google credentials are not configured (set GOOGLE_CREDENTIALS_JSON or GOOGLE_CREDENTIALS_FILE)", nil)
		}
		raw, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, config.NewConfigurationError(
				fmt.Sprintf("cannot read google credentials file %s", cfg.CredentialsFile), err)
		}
		data = raw
	}

	creds, err := google.CredentialsFromJSON(ctx, data, SpreadsheetsScope, DriveScope)
	if err != nil {
		return nil, config.NewConfigurationError("google credentials are not valid service-account JSON", err)
	}
	return creds, nil
}

// ClientOptions returns the options that authenticate a Sheets service with
// the configured credentials.
func ClientOptions(ctx context.Context, cfg config.GoogleConfig) ([]option.ClientOption, error) {
	creds, err := LoadCredentials(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return []option.ClientOption{option.WithCredentials(creds)}, nil
}
