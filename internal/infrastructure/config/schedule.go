package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// ScheduleConfig holds the tariff windows in the order they appear in the file.
//
// The YAML form is a mapping keyed by window name:
//
//	schedule:
//	  night:
//	    conditions:
//	      - after: "23:00:00"
//	        before: "07:00:00"
//	  day:
//	    conditions:
//	      - after: "07:00:00"
//	        before: "23:00:00"
//
// Classification is first-match, so the mapping order is significant and is
// preserved by decoding through yaml.Node instead of a Go map.
type ScheduleConfig []ScheduleWindow

// ScheduleWindow is one named tariff window.
type ScheduleWindow struct {
	Name       string              `yaml:"-"`
	Conditions []ScheduleCondition `yaml:"conditions"`
}

// ScheduleCondition is a wall-clock interval [After, Before) in HH:MM:SS.
// After > Before means the interval wraps midnight.
type ScheduleCondition struct {
	After  string `yaml:"after"`
	Before string `yaml:"before"`
}

// UnmarshalYAML decodes the schedule mapping while keeping key order.
func (s *ScheduleConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: schedule must be a mapping of window names", node.Line)
	}

	windows := make(ScheduleConfig, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		keyNode, valueNode := node.Content[i], node.Content[i+1]

		var name string
		if err := keyNode.Decode(&name); err != nil {
			return fmt.Errorf("line %d: schedule window name: %w", keyNode.Line, err)
		}

		var window ScheduleWindow
		if err := valueNode.Decode(&window); err != nil {
			return fmt.Errorf("schedule window %q: %w", name, err)
		}
		window.Name = name
		windows = append(windows, window)
	}

	*s = windows
	return nil
}

// Names returns the window names in configuration order.
func (s ScheduleConfig) Names() []string {
	names := make([]string, 0, len(s))
	for _, w := range s {
		names = append(names, w.Name)
	}
	return names
}

// validate reports structural problems. Time values that do not parse are
// left to the schedule index, which skips them.
func (s ScheduleConfig) validate() []string {
	var errs []string

	if len(s) == 0 {
		return []string{"schedule must define at least one window"}
	}

	seen := make(map[string]bool, len(s))
	for i, w := range s {
		if w.Name == "" {
			errs = append(errs, fmt.Sprintf("schedule window #%d has an empty name", i+1))
			continue
		}
		if seen[w.Name] {
			errs = append(errs, fmt.Sprintf("schedule window %q is defined twice", w.Name))
		}
		seen[w.Name] = true

		if len(w.Conditions) == 0 {
			errs = append(errs, fmt.Sprintf("schedule.%s.conditions must not be empty", w.Name))
		}
		for j, c := range w.Conditions {
			if c.After == "" || c.Before == "" {
				errs = append(errs, fmt.Sprintf("schedule.%s.conditions[%d] requires both after and before", w.Name, j))
			}
		}
	}

	return errs
}
