package gcp

import "testing"

func TestClientOptions(t *testing.T) {
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS_JSON", "")
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "")
	t.Setenv("GOOGLE_CLOUD_QUOTA_PROJECT", "")
	if got := ClientOptions(); len(got) != 0 {
		t.Fatalf("no env: want 0 options, got %d", len(got))
	}

	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "/etc/gcp/sa.json")
	t.Setenv("GOOGLE_CLOUD_QUOTA_PROJECT", "lifeprint-prod")
	if got := ClientOptions("scope-a"); len(got) != 3 {
		t.Fatalf("creds+quota+scope: want 3 options, got %d", len(got))
	}
}
