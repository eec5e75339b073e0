package device

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"

	"daqserver/internal/faults"
)

// Defaults applied by Normalize to unset fields.
const (
	DefaultDeviceID     = "Dev1"
	DefaultVRange       = 2.5
	DefaultDVRange      = 0.2
	DefaultSamplingRate = 10000
)

// DefaultChannelMap is the analog input layout of the DAQ 6363 and similar
// boards: each port uses a voltage channel and a paired current channel.
var DefaultChannelMap = []int{0, 1, 2, 3, 4, 5, 6, 7, 16, 17, 18, 19, 20, 21, 22, 23}

// Config is the device configuration a client submits with configure.
type Config struct {
	DeviceID       string    `json:"device_id"`
	VRange         float64   `json:"v_range"`
	DVRange        float64   `json:"dv_range"`
	SamplingRate   int       `json:"sampling_rate"`
	ResistorValues []float64 `json:"resistor_values"`
	ChannelMap     []int     `json:"channel_map,omitempty"`
	Labels         []string  `json:"labels,omitempty"`
}

// NumberOfPorts is the number of measured ports, one per resistor.
func (c Config) NumberOfPorts() int {
	return len(c.ResistorValues)
}

// Normalize returns a copy of c with defaults filled in. Labels default to
// PORT_<i> for each resistor when none are given.
func (c Config) Normalize() Config {
	out := c
	out.DeviceID = strings.TrimSpace(out.DeviceID)
	if out.DeviceID == "" {
		out.DeviceID = DefaultDeviceID
	}
	if out.VRange == 0 {
		out.VRange = DefaultVRange
	}
	if out.DVRange == 0 {
		out.DVRange = DefaultDVRange
	}
	if out.SamplingRate == 0 {
		out.SamplingRate = DefaultSamplingRate
	}
	out.ResistorValues = append([]float64(nil), c.ResistorValues...)
	if len(c.ChannelMap) == 0 {
		out.ChannelMap = append([]int(nil), DefaultChannelMap...)
	} else {
		out.ChannelMap = append([]int(nil), c.ChannelMap...)
	}
	if len(c.Labels) == 0 {
		out.Labels = make([]string, len(c.ResistorValues))
		for i := range out.Labels {
			out.Labels[i] = fmt.Sprintf("PORT_%d", i)
		}
	} else {
		out.Labels = make([]string, len(c.Labels))
		for i, label := range c.Labels {
			out.Labels[i] = strings.TrimSpace(label)
		}
	}
	return out
}

// Validate reports the first problem that makes c unusable for a session.
// Every failure is tagged with faults.ErrValidation.
func (c Config) Validate() error {
	if c.NumberOfPorts() == 0 {
		return invalid("no resistor values were specified")
	}
	if len(c.ResistorValues) != len(c.Labels) {
		return invalid(fmt.Sprintf("the number of resistors (%d) does not match the number of labels (%d)",
			len(c.ResistorValues), len(c.Labels)))
	}
	for i, value := range c.ResistorValues {
		if value <= 0 {
			return invalid(fmt.Sprintf("resistor value %d must be positive, got %g", i, value))
		}
	}
	if c.SamplingRate <= 0 {
		return invalid(fmt.Sprintf("sampling rate must be positive, got %d", c.SamplingRate))
	}
	if c.VRange <= 0 || c.DVRange <= 0 {
		return invalid(fmt.Sprintf("voltage ranges must be positive, got v_range=%g dv_range=%g", c.VRange, c.DVRange))
	}
	if need := 2 * c.NumberOfPorts(); len(c.ChannelMap) < need {
		return invalid(fmt.Sprintf("channel map has %d channels, %d ports need %d", len(c.ChannelMap), c.NumberOfPorts(), need))
	}
	return validateLabels(c.Labels)
}

func validateLabels(labels []string) error {
	fold := cases.Fold()
	seen := make(map[string]string, len(labels))
	for _, label := range labels {
		switch {
		case label == "":
			return invalid("labels must not be empty")
		case label == "." || label == "..":
			return invalid(fmt.Sprintf("label %q is not a valid file name", label))
		case strings.ContainsAny(label, `/\`):
			return invalid(fmt.Sprintf("label %q must not contain a path separator", label))
		}
		key := fold.String(label)
		if prev, ok := seen[key]; ok {
			return invalid(fmt.Sprintf("labels %q and %q name the same file", prev, label))
		}
		seen[key] = label
	}
	return nil
}

func invalid(message string) error {
	return faults.Validation("device", "validate", message)
}
