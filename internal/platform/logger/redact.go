package logger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
)

const redacted = "[REDACTED]"

// Fields whose values never reach the log.
var redactSubstrings = []string{
	"token", "authorization", "password", "secret", "cookie", "api_key", "apikey",
	"credentials", "signed_url", "download_url", "chart_url", "transcript",
}

// Identifiers that are kept correlatable but not readable.
var hashKeys = map[string]bool{
	"family_id":   true,
	"uploader_id": true,
	"child_name":  true,
	"filename":    true,
}

// redactor scrubs structured fields. A nil redactor passes fields through.
type redactor struct {
	salt string
}

func redactorFromEnv() *redactor {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("LOG_REDACTION_ENABLED"))) {
	case "0", "false", "no", "off":
		return nil
	}
	return &redactor{salt: strings.TrimSpace(os.Getenv("LOG_HASH_SALT"))}
}

func (r *redactor) fields(kv []interface{}) []interface{} {
	if r == nil || len(kv) == 0 {
		return kv
	}
	out := make([]interface{}, 0, len(kv))
	for i := 0; i+1 < len(kv); i += 2 {
		key := toString(kv[i])
		out = append(out, key, r.value(normalizeKey(key), kv[i+1]))
	}
	if len(kv)%2 == 1 {
		out = append(out, kv[len(kv)-1])
	}
	return out
}

func (r *redactor) value(key string, val interface{}) interface{} {
	if key != "" {
		for _, s := range redactSubstrings {
			if strings.Contains(key, s) {
				return redacted
			}
		}
		if hashKeys[key] {
			return r.hash(val)
		}
	}
	switch v := val.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, item := range v {
			out[k] = r.value(normalizeKey(k), item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = r.value("", item)
		}
		return out
	case string:
		if looksSigned(v) {
			return redacted
		}
	}
	return val
}

func (r *redactor) hash(val interface{}) string {
	raw := toString(val)
	if raw == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(r.salt + raw))
	return "hash:" + hex.EncodeToString(sum[:6])
}

// looksSigned catches bearer tokens and presigned object URLs passed under an innocent key.
func looksSigned(s string) bool {
	if strings.Contains(s, "X-Goog-Signature=") || strings.Contains(s, "X-Amz-Signature=") {
		return true
	}
	parts := strings.Split(s, ".")
	return len(parts) == 3 && len(parts[0]) > 10 && len(parts[1]) > 10 && !strings.ContainsAny(s, " /")
}

func normalizeKey(k string) string { return strings.ToLower(strings.TrimSpace(k)) }

func toString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case fmt.Stringer:
		return t.String()
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}
