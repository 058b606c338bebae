package settings

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// UserSettings holds persistable client preferences.
// Zero values mean "use the built-in default".
type UserSettings struct {
	OfferURL  string `json:"offerUrl"`
	SocketURL string `json:"socketUrl"`
	Kind      string `json:"kind"` // "peer" or "socket"

	STUNServers []string `json:"stunServers,omitempty"`
	TURNServer  string   `json:"turnServer,omitempty"`
	TURNUser    string   `json:"turnUser,omitempty"`
	TURNPass    string   `json:"turnPass,omitempty"`
	ForceRelay  bool     `json:"forceRelay"`

	// Timeouts in seconds
	HandshakeTimeout int `json:"handshakeTimeout"`
	ChannelTimeout   int `json:"channelTimeout"`
	SocketTimeout    int `json:"socketTimeout"`
}

// DefaultSettings returns the default settings
func DefaultSettings() UserSettings {
	return UserSettings{
		Kind:             "peer",
		HandshakeTimeout: 10,
		ChannelTimeout:   10,
		SocketTimeout:    10,
	}
}

// Path returns the config file path.
// Uses XDG_CONFIG_HOME if set, otherwise the OS user config directory.
func Path() (string, error) {
	var configDir string

	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		configDir = filepath.Join(xdg, "rovlink")
	} else {
		userConfigDir, err := os.UserConfigDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(userConfigDir, "rovlink")
	}

	return filepath.Join(configDir, "config.json"), nil
}

// Load reads settings from the config file.
// Returns default settings if file doesn't exist or is invalid.
func Load() (UserSettings, error) {
	settings := DefaultSettings()

	path, err := Path()
	if err != nil {
		return settings, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return settings, nil
		}
		return settings, err
	}

	// Missing fields keep their defaults
	if err := json.Unmarshal(data, &settings); err != nil {
		return DefaultSettings(), nil
	}

	return settings, nil
}

// Save writes settings to the config file
func Save(settings UserSettings) error {
	path, err := Path()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}

	// TURN credentials may be in here
	return os.WriteFile(path, data, 0600)
}
