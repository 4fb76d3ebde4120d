package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// overlayFile is the optional YAML file that extends the relay's
// payload-scanning behaviour without a rebuild. Recognized keys:
//
//	phone_fields:
//	  - custom_destination
//	placeholder_patterns:
//	  - '\$\{[^}]*\}'
//	dial_format: national
type overlayFile struct {
	PhoneFields         []string `yaml:"phone_fields"`
	PlaceholderPatterns []string `yaml:"placeholder_patterns"`
	DialFormat          string   `yaml:"dial_format"`
}

func applyOverlay(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var overlay overlayFile
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	cfg.ExtraPhoneFields = append(cfg.ExtraPhoneFields, overlay.PhoneFields...)
	cfg.ExtraPlaceholderPatterns = append(cfg.ExtraPlaceholderPatterns, overlay.PlaceholderPatterns...)
	if overlay.DialFormat != "" {
		cfg.DialFormat = overlay.DialFormat
	}
	return nil
}
