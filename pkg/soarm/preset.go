package soarm

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"

	"github.com/armhub-dev/armhub/pkg/robot"
)

// Preset is a saved per-joint calibration, keyed by joint name. Presets
// let an arm skip the recording session on later runs.
type Preset map[robot.JointName]Calibration

// LoadPreset reads a preset from a JSON file.
func LoadPreset(path string) (Preset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading preset")
	}
	var p Preset
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, errors.Wrapf(err, "parsing preset %s", path)
	}
	return p, nil
}

// Save writes the preset as indented JSON.
func (p Preset) Save(path string) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding preset")
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrap(err, "writing preset")
	}
	return nil
}

// FullRange returns a preset that marks every joint calibrated over the
// servo's full mechanical range.
func FullRange(desc robot.Descriptor) Preset {
	p := make(Preset, len(desc))
	for _, spec := range desc {
		p[spec.Name] = Calibration{Calibrated: true, MinRaw: rawMin, MaxRaw: rawMax}
	}
	return p
}
