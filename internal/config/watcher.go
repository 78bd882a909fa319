package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/kaustavdm/watchme/internal/types"
)

// WatcherFile is the on-disk list of a watcher's tasks.
type WatcherFile struct {
	Tasks []TaskDef `yaml:"tasks"`
}

// TaskDef is one task entry. Scalar params of any YAML type are accepted and
// stringified.
type TaskDef struct {
	Name   string         `yaml:"name"`
	Type   string         `yaml:"type"`
	Active *bool          `yaml:"active"`
	Params map[string]any `yaml:"params"`
}

// LoadTasks reads task specs from a watcher file. A missing file yields no
// tasks.
func LoadTasks(path string) ([]types.TaskSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return ParseTasks(data)
}

// ParseTasks decodes a watcher file body.
func ParseTasks(data []byte) ([]types.TaskSpec, error) {
	var wf WatcherFile
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("parsing watcher file: %w", err)
	}

	specs := make([]types.TaskSpec, 0, len(wf.Tasks))
	seen := make(map[string]bool, len(wf.Tasks))
	for i, def := range wf.Tasks {
		if def.Name == "" {
			return nil, types.Errorf(types.ErrConfiguration, "", "task #%d has no name", i)
		}
		if def.Type == "" {
			return nil, types.Errorf(types.ErrConfiguration, def.Name, "task type is required")
		}
		if seen[def.Name] {
			return nil, types.Errorf(types.ErrConfiguration, def.Name, "duplicate task name")
		}
		seen[def.Name] = true

		params := make(map[string]string, len(def.Params))
		for k, v := range def.Params {
			s, err := stringify(v)
			if err != nil {
				return nil, types.Errorf(types.ErrConfiguration, def.Name, "param %q: %v", k, err)
			}
			params[k] = s
		}

		spec := types.NewTaskSpec(def.Name, def.Type, params)
		if def.Active != nil {
			spec.Active = *def.Active
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func stringify(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case bool:
		return strconv.FormatBool(t), nil
	case int:
		return strconv.Itoa(t), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	default:
		return "", fmt.Errorf("unsupported value of type %T", v)
	}
}
