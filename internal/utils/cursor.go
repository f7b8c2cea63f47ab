package utils

import (
	"encoding/base64"
	"encoding/json"
	"errors"
)

// ConfigCursor is the continuation token of a paginated config scan.
type ConfigCursor struct {
	Namespace string `json:"ns"`
	AfterKey  string `json:"after"`
}

func EncodeConfigCursor(namespace, afterKey string) (string, error) {
	b, err := json.Marshal(ConfigCursor{Namespace: namespace, AfterKey: afterKey})
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func DecodeConfigCursor(cursor string) (ConfigCursor, error) {
	if cursor == "" {
		return ConfigCursor{}, errors.New("empty cursor")
	}

	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return ConfigCursor{}, err
	}

	var c ConfigCursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return ConfigCursor{}, err
	}
	if c.Namespace == "" || c.AfterKey == "" {
		return ConfigCursor{}, errors.New("invalid cursor payload")
	}
	return c, nil
}
