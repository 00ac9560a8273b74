package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Sandbox is the informational configuration shipped with the container
// image. It is loaded once at startup and never modified afterwards.
type Sandbox struct {
	YmlContent string         `json:"yml_content,omitempty"`
	Yml        map[string]any `json:"yml,omitempty"`
	Tools      any            `json:"tools,omitempty"`
}

// LoadSandbox reads sandbox.yml and tools.json from home. Missing files are
// tolerated; malformed files are logged and left out.
func LoadSandbox(home string, log *slog.Logger) (*Sandbox, error) {
	sb := &Sandbox{}

	ymlPath := filepath.Join(home, "sandbox.yml")
	buf, err := readOptional(ymlPath)
	if err != nil {
		return nil, err
	}
	if buf != nil {
		sb.YmlContent = string(buf)
		var doc map[string]any
		if err := yaml.Unmarshal(buf, &doc); err != nil {
			log.Warn("sandbox.yml is not valid yaml, keeping raw content only", "path", ymlPath, "error", err)
		} else {
			sb.Yml = doc
		}
	}

	toolsPath := filepath.Join(home, "tools.json")
	buf, err = readOptional(toolsPath)
	if err != nil {
		return nil, err
	}
	if buf != nil {
		var tools any
		if err := json.Unmarshal(buf, &tools); err != nil {
			log.Warn("tools.json is not valid json, skipping", "path", toolsPath, "error", err)
		} else {
			sb.Tools = tools
		}
	}

	log.Info("sandbox configuration loaded", "yml", sb.YmlContent != "", "tools", sb.Tools != nil)
	return sb, nil
}

func readOptional(path string) ([]byte, error) {
	buf, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error reading %s: %w", path, err)
	}
	return buf, nil
}
