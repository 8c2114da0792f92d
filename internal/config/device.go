package config

import (
	"fmt"
	"os"

	jsoniter "github.com/json-iterator/go"

	"iotc-agent/internal/model"
)

var jsonStd = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	AuthX509  = "IOTC_AT_X509"
	AuthToken = "IOTC_AT_TOKEN"
)

type AuthConfig struct {
	Type   string         `json:"auth_type"`
	Params map[string]any `json:"params"`
}

// Param returns a string auth parameter, or "" when absent.
func (a AuthConfig) Param(key string) string {
	if s, ok := a.Params[key].(string); ok {
		return s
	}
	return ""
}

type AttributeConfig struct {
	Name            string `json:"name"`
	PrivateData     string `json:"private_data"`
	PrivateDataType string `json:"private_data_type"`
}

type DeviceSection struct {
	CommandsListPath string            `json:"commands_list_path"`
	Attributes       []AttributeConfig `json:"attributes"`
}

// DeviceConfig is the device's JSON configuration. It is not modified after load.
type DeviceConfig struct {
	DUID           string        `json:"duid"`
	CPID           string        `json:"cpid"`
	Env            string        `json:"env"`
	ServerCert     string        `json:"iotc_server_cert"`
	SDKID          string        `json:"sdk_id"`
	DiscoveryURL   string        `json:"discovery_url"`
	ConnectionType string        `json:"connection_type"`
	Auth           AuthConfig    `json:"auth"`
	Device         DeviceSection `json:"device"`
}

// Platform maps the connection type to the short platform tag.
func (d *DeviceConfig) Platform() string {
	switch d.ConnectionType {
	case "IOTC_CT_AZURE":
		return "az"
	case "IOTC_CT_AWS":
		return "aws"
	}
	return ""
}

// Encoding returns the parsed encoding of an attribute entry.
func (a AttributeConfig) Encoding() (model.Encoding, error) {
	return model.ParseEncoding(a.PrivateDataType)
}

var (
	requiredTop    = []string{"duid", "cpid", "env", "iotc_server_cert", "sdk_id", "discovery_url", "connection_type", "auth"}
	requiredAuth   = []string{"auth_type", "params"}
	requiredDevice = []string{"commands_list_path", "attributes"}
	requiredX509   = []string{"client_key", "client_cert"}
)

// LoadDeviceConfig reads and validates the device configuration at path.
func LoadDeviceConfig(path string) (*DeviceConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read device config: %w", err)
	}
	return ParseDeviceConfig(raw)
}

func ParseDeviceConfig(raw []byte) (*DeviceConfig, error) {
	var tree map[string]any
	if err := jsonStd.Unmarshal(raw, &tree); err != nil {
		return nil, fmt.Errorf("parse device config: %w", err)
	}

	if err := requireKeys(tree, requiredTop); err != nil {
		return nil, err
	}
	auth, _ := tree["auth"].(map[string]any)
	if err := requireKeys(auth, requiredAuth); err != nil {
		return nil, err
	}
	if _, ok := tree["device"]; !ok {
		return nil, missingKey("device")
	}
	device, _ := tree["device"].(map[string]any)
	if err := requireKeys(device, requiredDevice); err != nil {
		return nil, err
	}

	var cfg DeviceConfig
	if err := jsonStd.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("decode device config: %w", err)
	}

	if cfg.Auth.Type == AuthX509 {
		params, _ := auth["params"].(map[string]any)
		if err := requireKeys(params, requiredX509); err != nil {
			return nil, err
		}
	}

	seen := make(map[string]bool, len(cfg.Device.Attributes))
	for i, attr := range cfg.Device.Attributes {
		if attr.Name == "" {
			return nil, fmt.Errorf("ERROR - attribute %d has no name", i)
		}
		if seen[attr.Name] {
			return nil, fmt.Errorf("ERROR - duplicate attribute %q", attr.Name)
		}
		seen[attr.Name] = true
		if _, err := attr.Encoding(); err != nil {
			return nil, fmt.Errorf("ERROR - attribute %q: %w", attr.Name, err)
		}
	}

	return &cfg, nil
}

func requireKeys(tree map[string]any, keys []string) error {
	for _, key := range keys {
		if _, ok := tree[key]; !ok {
			return missingKey(key)
		}
	}
	return nil
}

func missingKey(key string) error {
	return fmt.Errorf("ERROR - %s not in json", key)
}
