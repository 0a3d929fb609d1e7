package gcp

import (
	"fmt"
	"net/url"
	"strings"
)

// ObjectStorageMode selects where uploaded media, keyframes, charts and export
// archives are kept.
type ObjectStorageMode string

const (
	ObjectStorageModeGCS         ObjectStorageMode = "gcs"
	ObjectStorageModeGCSEmulator ObjectStorageMode = "gcs_emulator"
	// ObjectStorageModeMemory keeps objects in process; single-node development only.
	ObjectStorageModeMemory ObjectStorageMode = "memory"
)

var objectStorageModes = []ObjectStorageMode{ObjectStorageModeGCS, ObjectStorageModeGCSEmulator, ObjectStorageModeMemory}

type ObjectStorageConfig struct {
	Mode         ObjectStorageMode
	EmulatorHost string
	// PublicBaseURL overrides the host used for object URLs handed to clients.
	PublicBaseURL string
	// CompatibilityFallback is set when the emulator was picked only because
	// STORAGE_EMULATOR_HOST was present.
	CompatibilityFallback bool
}

// ParseObjectStorageMode normalizes a configured mode. An empty mode means the emulator
// when an emulator host is known and real GCS otherwise. Unknown modes are returned as-is
// and rejected by Validate.
func ParseObjectStorageMode(raw, emulatorHost string) (mode ObjectStorageMode, fallback bool) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw != "" {
		return ObjectStorageMode(raw), false
	}
	if strings.TrimSpace(emulatorHost) != "" {
		return ObjectStorageModeGCSEmulator, true
	}
	return ObjectStorageModeGCS, false
}

func (m ObjectStorageMode) Supported() bool {
	for _, known := range objectStorageModes {
		if m == known {
			return true
		}
	}
	return false
}

func (cfg ObjectStorageConfig) IsEmulatorMode() bool {
	return cfg.Mode == ObjectStorageModeGCSEmulator
}

func (cfg ObjectStorageConfig) ModeSource() string {
	if cfg.CompatibilityFallback {
		return "compatibility_fallback"
	}
	return "explicit_or_default"
}

type ObjectStorageConfigErrorCode string

const (
	ObjectStorageConfigErrorInvalidMode         ObjectStorageConfigErrorCode = "invalid_mode"
	ObjectStorageConfigErrorMissingEmulatorHost ObjectStorageConfigErrorCode = "missing_emulator_host"
	ObjectStorageConfigErrorInvalidEmulatorHost ObjectStorageConfigErrorCode = "invalid_emulator_host"
	ObjectStorageConfigErrorInvalidPublicBase   ObjectStorageConfigErrorCode = "invalid_public_base_url"
)

type ObjectStorageConfigError struct {
	Code  ObjectStorageConfigErrorCode
	Value string
	Cause error
}

func (e *ObjectStorageConfigError) Error() string {
	if e == nil {
		return "invalid object storage config"
	}
	switch e.Code {
	case ObjectStorageConfigErrorInvalidMode:
		return fmt.Sprintf("invalid OBJECT_STORAGE_MODE=%q (allowed: %q)", e.Value, objectStorageModes)
	case ObjectStorageConfigErrorMissingEmulatorHost:
		return fmt.Sprintf("OBJECT_STORAGE_MODE=%q requires STORAGE_EMULATOR_HOST", ObjectStorageModeGCSEmulator)
	case ObjectStorageConfigErrorInvalidEmulatorHost:
		return fmt.Sprintf("invalid STORAGE_EMULATOR_HOST=%q; want an absolute URL like http://fake-gcs:4443", e.Value)
	case ObjectStorageConfigErrorInvalidPublicBase:
		return fmt.Sprintf("invalid OBJECT_STORAGE_PUBLIC_BASE_URL=%q; want an absolute URL", e.Value)
	default:
		return "invalid object storage config"
	}
}

func (e *ObjectStorageConfigError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func (cfg ObjectStorageConfig) Validate() error {
	if !cfg.Mode.Supported() {
		return &ObjectStorageConfigError{Code: ObjectStorageConfigErrorInvalidMode, Value: string(cfg.Mode)}
	}
	if cfg.PublicBaseURL != "" {
		if err := absoluteURL(cfg.PublicBaseURL); err != nil {
			return &ObjectStorageConfigError{Code: ObjectStorageConfigErrorInvalidPublicBase, Value: cfg.PublicBaseURL, Cause: err}
		}
	}
	if !cfg.IsEmulatorMode() {
		return nil
	}
	if cfg.EmulatorHost == "" {
		return &ObjectStorageConfigError{Code: ObjectStorageConfigErrorMissingEmulatorHost}
	}
	if err := absoluteURL(cfg.EmulatorHost); err != nil {
		return &ObjectStorageConfigError{Code: ObjectStorageConfigErrorInvalidEmulatorHost, Value: cfg.EmulatorHost, Cause: err}
	}
	return nil
}

// publicBase is the host prefix for object URLs, or "" for the GCS default.
func (cfg ObjectStorageConfig) publicBase() string {
	if cfg.PublicBaseURL != "" {
		return strings.TrimRight(cfg.PublicBaseURL, "/")
	}
	if cfg.IsEmulatorMode() {
		return strings.TrimRight(cfg.EmulatorHost, "/")
	}
	return ""
}

func absoluteURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return err
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%q is not absolute", raw)
	}
	return nil
}
