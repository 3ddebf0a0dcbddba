// Package inventory loads the provisioning file that describes the organization → room →
// machine → component hierarchy and the failure bands attached to each component.
package inventory

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"labwatch/internal/models"
)

type Inventory struct {
	Organizations []Organization `yaml:"organizations"`
}

type Organization struct {
	ID      int64  `yaml:"id"`
	Name    string `yaml:"name"`
	SlackID string `yaml:"slack_id"`
	Rooms   []Room `yaml:"rooms"`
}

type Room struct {
	ID       int64     `yaml:"id"`
	Name     string    `yaml:"name"`
	Machines []Machine `yaml:"machines"`
}

type Machine struct {
	ID         int64       `yaml:"id"`
	Hostname   string      `yaml:"hostname"`
	IP         string      `yaml:"ip"`
	Brand      string      `yaml:"brand"`
	OS         string      `yaml:"os"`
	Components []Component `yaml:"components"`
}

type Component struct {
	ID         int64       `yaml:"id"`
	Kind       string      `yaml:"kind"`
	Formatting string      `yaml:"formatting"`
	Capacity   *float64    `yaml:"capacity"`
	Parameters []Parameter `yaml:"parameters"`
}

type Parameter struct {
	Level string  `yaml:"level"`
	Min   float64 `yaml:"min"`
	Max   float64 `yaml:"max"`
}

// Load reads and validates the inventory file at path.
func Load(path string) (*Inventory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("inventory: read %q: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Inventory, error) {
	inv := &Inventory{}
	if err := yaml.Unmarshal(data, inv); err != nil {
		return nil, fmt.Errorf("inventory: parse yaml: %w", err)
	}
	if err := validate(inv); err != nil {
		return nil, fmt.Errorf("inventory: %w", err)
	}
	return inv, nil
}

// Machines flattens the hierarchy into the machine list the sampler iterates.
func (inv *Inventory) Machines() []Machine {
	var out []Machine
	for _, o := range inv.Organizations {
		for _, r := range o.Rooms {
			out = append(out, r.Machines...)
		}
	}
	return out
}

func validate(inv *Inventory) error {
	seenMachine := map[int64]bool{}
	seenComponent := map[int64]bool{}
	for _, o := range inv.Organizations {
		if o.ID <= 0 {
			return fmt.Errorf("organization %q: id must be positive", o.Name)
		}
		for _, r := range o.Rooms {
			if r.ID <= 0 {
				return fmt.Errorf("room %q: id must be positive", r.Name)
			}
			for _, m := range r.Machines {
				if m.ID <= 0 {
					return fmt.Errorf("machine %q: id must be positive", m.Hostname)
				}
				if seenMachine[m.ID] {
					return fmt.Errorf("machine %d declared twice", m.ID)
				}
				seenMachine[m.ID] = true
				kinds := map[string]bool{}
				for _, c := range m.Components {
					if c.ID <= 0 {
						return fmt.Errorf("machine %d: component id must be positive", m.ID)
					}
					if seenComponent[c.ID] {
						return fmt.Errorf("component %d declared twice", c.ID)
					}
					seenComponent[c.ID] = true
					if !models.ComponentKind(c.Kind).Valid() {
						return fmt.Errorf("component %d: unknown kind %q", c.ID, c.Kind)
					}
					if kinds[c.Kind] {
						return fmt.Errorf("machine %d: kind %s declared twice", m.ID, c.Kind)
					}
					kinds[c.Kind] = true
					levels := map[string]bool{}
					for _, p := range c.Parameters {
						if _, err := models.ParseBandLevel(p.Level); err != nil {
							return fmt.Errorf("component %d: invalid parameter level %q", c.ID, p.Level)
						}
						if levels[p.Level] {
							return fmt.Errorf("component %d: level %s declared twice", c.ID, p.Level)
						}
						levels[p.Level] = true
						if p.Min > p.Max {
							return fmt.Errorf("component %d: %s band min %v > max %v", c.ID, p.Level, p.Min, p.Max)
						}
					}
				}
			}
		}
	}
	return nil
}
