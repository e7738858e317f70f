package memory

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"licenseapi/pkg/contracts/domain"
)

// seedFile is the YAML layout accepted by LoadSeed
type seedFile struct {
	Licenses []seedLicense `yaml:"licenses"`
}

type seedLicense struct {
	Key        string   `yaml:"key"`
	Email      string   `yaml:"email"`
	Plan       string   `yaml:"plan"`
	Features   []string `yaml:"features"`
	Active     *bool    `yaml:"active"`
	MaxDevices int      `yaml:"max_devices"`
	ExpiresAt  string   `yaml:"expires_at"`
}

// LoadSeed reads licenses from a YAML file into the store. Licenses default to
// active with one device slot and no expiry.
func (s *Store) LoadSeed(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read seed file: %w", err)
	}

	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return 0, fmt.Errorf("parse seed file: %w", err)
	}

	for i, sl := range seed.Licenses {
		lic, err := sl.toLicense()
		if err != nil {
			return i, fmt.Errorf("seed license %d: %w", i, err)
		}
		s.PutLicense(lic)
	}
	return len(seed.Licenses), nil
}

func (sl seedLicense) toLicense() (*domain.License, error) {
	key := domain.NormalizeLicenseKey(sl.Key)
	if key == "" {
		return nil, fmt.Errorf("key is required")
	}

	lic := &domain.License{
		Key:        key,
		Email:      sl.Email,
		Plan:       sl.Plan,
		Features:   sl.Features,
		Active:     true,
		MaxDevices: sl.MaxDevices,
	}
	if sl.Active != nil {
		lic.Active = *sl.Active
	}
	if lic.MaxDevices <= 0 {
		lic.MaxDevices = 1
	}
	if sl.ExpiresAt != "" {
		exp, err := time.Parse(time.RFC3339, sl.ExpiresAt)
		if err != nil {
			return nil, fmt.Errorf("expires_at: %w", err)
		}
		exp = exp.UTC()
		lic.ExpiresAt = &exp
	}
	return lic, nil
}
