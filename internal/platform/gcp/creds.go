package gcp

import (
	"os"
	"strings"

	"google.golang.org/api/option"
)

// ClientOptions builds the options shared by the storage, speech, vision and video
// clients. GOOGLE_APPLICATION_CREDENTIALS_JSON (inline) wins over
// GOOGLE_APPLICATION_CREDENTIALS (inline JSON or a file path); with neither set the
// client falls back to application default credentials.
func ClientOptions(scopes ...string) []option.ClientOption {
	var opts []option.ClientOption
	if creds := firstEnv("GOOGLE_APPLICATION_CREDENTIALS_JSON", "GOOGLE_APPLICATION_CREDENTIALS"); creds != "" {
		if strings.HasPrefix(creds, "{") {
			opts = append(opts, option.WithCredentialsJSON([]byte(creds)))
		} else {
			opts = append(opts, option.WithCredentialsFile(creds))
		}
	}
	if project := firstEnv("GOOGLE_CLOUD_QUOTA_PROJECT"); project != "" {
		opts = append(opts, option.WithQuotaProject(project))
	}
	if len(scopes) > 0 {
		opts = append(opts, option.WithScopes(scopes...))
	}
	return opts
}

func firstEnv(names ...string) string {
	for _, n := range names {
		if v := strings.TrimSpace(os.Getenv(n)); v != "" {
			return v
		}
	}
	return ""
}
