// Package clientconfig loads the admin client's INI configuration.
package clientconfig

import (
	"crypto/ed25519"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/mr-tron/base58"
	"github.com/spf13/viper"
	"gopkg.in/ini.v1"
)

const (
	globalSection = "Global"

	HTTPURLKey    = "Global.http_url"
	WSURLKey      = "Global.ws_url"
	PayerPathKey  = "Global.payer_path"
	AdminPathKey  = "Global.admin_path"
	AmmProgramKey = "Global.raydium_program"
	PnlOwnerKey   = "Global.pnl_owner"
)

// ClientConfig is the validated client configuration. Load either returns a
// fully populated value or an error, never a partial one.
type ClientConfig struct {
	HTTPURL    string
	WSURL      string
	PayerPath  string
	AdminPath  string
	AmmProgram ed25519.PublicKey
	PnlOwner   ed25519.PublicKey
}

// ConfigError describes a missing or invalid configuration value. Key is
// empty when the file itself could not be read.
type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("invalid configuration: %s", e.Reason)
	}
	return fmt.Sprintf("invalid configuration value %s: %s", e.Key, e.Reason)
}

// Load reads and validates the client configuration at path.
func Load(path string) (ClientConfig, error) {
	v, err := read(path)
	if err != nil {
		return ClientConfig{}, err
	}
	if !v.IsSet(globalSection) {
		return ClientConfig{}, &ConfigError{Key: globalSection, Reason: "section is missing (section names are case-sensitive)"}
	}

	var config ClientConfig
	var errs []error

	config.HTTPURL, err = requireURL(v, HTTPURLKey, "http", "https")
	errs = append(errs, err)
	config.WSURL, err = requireURL(v, WSURLKey, "ws", "wss")
	errs = append(errs, err)
	config.PayerPath, err = requireString(v, PayerPathKey)
	errs = append(errs, err)
	config.AdminPath, err = requireString(v, AdminPathKey)
	errs = append(errs, err)
	config.AmmProgram, err = requirePublicKey(v, AmmProgramKey)
	errs = append(errs, err)
	config.PnlOwner, err = requirePublicKey(v, PnlOwnerKey)
	errs = append(errs, err)

	for _, err := range errs {
		if err != nil {
			return ClientConfig{}, err
		}
	}

	return config, nil
}

// read parses the INI file at path into a viper keyed by "section.key".
// Section names must match exactly, and a '#' or ';' inside a value is kept
// as part of the value since URLs may carry fragments.
func read(path string) (*viper.Viper, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, &ConfigError{Reason: fmt.Sprintf("cannot read %s: %v", path, err)}
	}

	file, err := ini.LoadSources(ini.LoadOptions{IgnoreInlineComment: true}, path)
	if err != nil {
		return nil, &ConfigError{Reason: fmt.Sprintf("cannot parse %s: %v", path, err)}
	}

	settings := make(map[string]interface{})
	for _, section := range file.Sections() {
		if section.Name() == ini.DefaultSection && len(section.Keys()) == 0 {
			continue
		}

		// viper folds key case, so a mis-cased section would otherwise pass
		// as the real one.
		name := section.Name()
		if strings.EqualFold(name, globalSection) && name != globalSection {
			return nil, &ConfigError{Key: name, Reason: fmt.Sprintf("section must be named %s", globalSection)}
		}

		values := make(map[string]interface{})
		for _, key := range section.Keys() {
			values[key.Name()] = key.String()
		}
		settings[name] = values
	}

	v := viper.New()
	if err := v.MergeConfigMap(settings); err != nil {
		return nil, &ConfigError{Reason: fmt.Sprintf("cannot parse %s: %v", path, err)}
	}

	return v, nil
}

func requireString(v *viper.Viper, key string) (string, error) {
	val := strings.TrimSpace(v.GetString(key))
	if val == "" {
		return "", &ConfigError{Key: key, Reason: "must not be empty"}
	}
	return val, nil
}

func requireURL(v *viper.Viper, key string, schemes ...string) (string, error) {
	val, err := requireString(v, key)
	if err != nil {
		return "", err
	}

	u, err := url.Parse(val)
	if err != nil {
		return "", &ConfigError{Key: key, Reason: fmt.Sprintf("malformed url: %v", err)}
	}
	if u.Host == "" {
		return "", &ConfigError{Key: key, Reason: "url has no host"}
	}
	for _, scheme := range schemes {
		if strings.EqualFold(u.Scheme, scheme) {
			return val, nil
		}
	}

	return "", &ConfigError{Key: key, Reason: fmt.Sprintf("url scheme must be one of %s", strings.Join(schemes, ", "))}
}

func requirePublicKey(v *viper.Viper, key string) (ed25519.PublicKey, error) {
	val, err := requireString(v, key)
	if err != nil {
		return nil, err
	}

	decoded, err := base58.Decode(val)
	if err != nil {
		return nil, &ConfigError{Key: key, Reason: fmt.Sprintf("not base58: %v", err)}
	}
	if len(decoded) != ed25519.PublicKeySize {
		return nil, &ConfigError{Key: key, Reason: fmt.Sprintf("decodes to %d bytes, expected %d", len(decoded), ed25519.PublicKeySize)}
	}

	return ed25519.PublicKey(decoded), nil
}
