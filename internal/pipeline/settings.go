package pipeline

import (
	"encoding/json"
	"fmt"

	"github.com/geocoder89/taskintegrator/internal/domain/task"
	"github.com/geocoder89/taskintegrator/internal/marketplace"
)

// Settings is the runtime configuration read from the ConfigStore.
type Settings struct {
	Auth struct {
		AccessKey string `json:"access_key"`
		SecretKey string `json:"secret_key"`
	} `json:"auth"`
	Sandbox           bool                     `json:"sandbox"`
	NotificationQueue string                   `json:"turk_notification_queue"`
	Layouts           map[string]task.Template `json:"layouts"`
}

func decodeSettings(raw map[string]any) (Settings, error) {
	var s Settings

	b, err := json.Marshal(raw)
	if err != nil {
		return s, wrap(ErrConfigUnavailable, "encode settings: %v", err)
	}
	if err := json.Unmarshal(b, &s); err != nil {
		return s, wrap(ErrConfigUnavailable, "decode settings: %v", err)
	}
	return s, nil
}

func (s Settings) Marketplace() marketplace.Config {
	return marketplace.Config{
		AccessKey: s.Auth.AccessKey,
		SecretKey: s.Auth.SecretKey,
		Sandbox:   s.Sandbox,
	}
}

// Template returns the validated template for a task.
func (s Settings) Template(taskName string) (task.Template, error) {
	t, ok := s.Layouts[taskName]
	if !ok {
		return task.Template{}, wrap(ErrUnknownTask, "task [%s] does not have an entry in configuration", taskName)
	}
	if err := t.Validate(); err != nil {
		return task.Template{}, fmt.Errorf("%w: task [%s]: %v", ErrConfigUnavailable, taskName, err)
	}
	return t, nil
}
