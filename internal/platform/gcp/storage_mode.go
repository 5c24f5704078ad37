package gcp

import (
	"fmt"
	"net/url"
	"os"
	"strings"
)

type StorageMode string

const (
	StorageModeGCS         StorageMode = "gcs"
	StorageModeGCSEmulator StorageMode = "gcs_emulator"
)

type StorageConfig struct {
	Mode         StorageMode
	EmulatorHost string
	Bucket       string
	// PublicBaseURL overrides https://storage.googleapis.com in PublicURL.
	PublicBaseURL string
	// Inferred is set when the emulator mode came from STORAGE_EMULATOR_HOST alone.
	Inferred bool
}

func (c StorageConfig) Emulated() bool { return c.Mode == StorageModeGCSEmulator }

type StorageConfigError struct {
	Field string
	Value string
	Cause error
}

func (e *StorageConfigError) Error() string {
	switch e.Field {
	case "OBJECT_STORAGE_MODE":
		return fmt.Sprintf("invalid OBJECT_STORAGE_MODE=%q (allowed: %q, %q)", e.Value, StorageModeGCS, StorageModeGCSEmulator)
	case "STORAGE_EMULATOR_HOST":
		if e.Value == "" {
			return fmt.Sprintf("OBJECT_STORAGE_MODE=%q requires STORAGE_EMULATOR_HOST to be set", StorageModeGCSEmulator)
		}
		return fmt.Sprintf("invalid STORAGE_EMULATOR_HOST=%q; expected absolute URL like http://fake-gcs:4443", e.Value)
	default:
		return fmt.Sprintf("invalid %s=%q", e.Field, e.Value)
	}
}

func (e *StorageConfigError) Unwrap() error { return e.Cause }

// ResolveStorageConfig reads OBJECT_STORAGE_MODE, STORAGE_EMULATOR_HOST,
// BUNDLE_GCS_BUCKET_NAME and OBJECT_STORAGE_PUBLIC_BASE_URL. A bare
// STORAGE_EMULATOR_HOST selects emulator mode.
func ResolveStorageConfig() (StorageConfig, error) {
	cfg := StorageConfig{
		EmulatorHost:  strings.TrimRight(strings.TrimSpace(os.Getenv("STORAGE_EMULATOR_HOST")), "/"),
		Bucket:        strings.TrimSpace(os.Getenv("BUNDLE_GCS_BUCKET_NAME")),
		PublicBaseURL: strings.TrimRight(strings.TrimSpace(os.Getenv("OBJECT_STORAGE_PUBLIC_BASE_URL")), "/"),
	}
	raw := strings.TrimSpace(os.Getenv("OBJECT_STORAGE_MODE"))
	switch mode := StorageMode(strings.ToLower(raw)); mode {
	case "":
		cfg.Mode = StorageModeGCS
		if cfg.EmulatorHost != "" {
			cfg.Mode = StorageModeGCSEmulator
			cfg.Inferred = true
		}
	case StorageModeGCS, StorageModeGCSEmulator:
		cfg.Mode = mode
	default:
		return cfg, &StorageConfigError{Field: "OBJECT_STORAGE_MODE", Value: raw}
	}
	return cfg, cfg.Validate()
}

func (c StorageConfig) Validate() error {
	switch c.Mode {
	case StorageModeGCS:
	case StorageModeGCSEmulator:
		if c.EmulatorHost == "" {
			return &StorageConfigError{Field: "STORAGE_EMULATOR_HOST"}
		}
		if err := requireAbsoluteURL(c.EmulatorHost); err != nil {
			return &StorageConfigError{Field: "STORAGE_EMULATOR_HOST", Value: c.EmulatorHost, Cause: err}
		}
	default:
		return &StorageConfigError{Field: "OBJECT_STORAGE_MODE", Value: string(c.Mode)}
	}
	if c.PublicBaseURL != "" {
		if err := requireAbsoluteURL(c.PublicBaseURL); err != nil {
			return &StorageConfigError{Field: "OBJECT_STORAGE_PUBLIC_BASE_URL", Value: c.PublicBaseURL, Cause: err}
		}
	}
	return nil
}

func requireAbsoluteURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("not an absolute url")
	}
	return nil
}
