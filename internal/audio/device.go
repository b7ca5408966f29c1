package audio

import (
	apperrors "github.com/GriffinCanCode/meeting-pilot/internal/errors"
)

// Device describes an audio endpoint.
type Device struct {
	Index             int     `json:"index"`
	Name              string  `json:"name"`
	MaxInputChannels  int     `json:"max_input_channels"`
	MaxOutputChannels int     `json:"max_output_channels"`
	DefaultSampleRate float64 `json:"default_sample_rate"`
	IsDefaultInput    bool    `json:"is_default_input"`
}

// IsInput reports whether the device can record.
func (d Device) IsInput() bool { return d.MaxInputChannels > 0 }

// SelectOptions steers device selection.
type SelectOptions struct {
	// UseLineIn picks a microphone or line input; otherwise a loopback device
	// carrying system audio is required.
	UseLineIn   bool
	DeviceIndex *int
	Excluded    []string
}

// Virtual and mapper endpoints that never carry a real microphone.
var skipKeywords = []string{
	"stereo mix", "loopback", "mapper", "wave", "what u hear", "wasapi", "primary sound capture",
}

var loopbackKeywords = []string{
	"blackhole", "vb-cable", "loopback", "monitor", "soundflower", "stereo mix", "what u hear",
}

// SelectDevice chooses the capture device. fallback is the OS default input, if any.
func SelectDevice(devices []Device, fallback *Device, opts SelectOptions) (Device, error) {
	if opts.DeviceIndex != nil {
		for _, d := range devices {
			if d.Index == *opts.DeviceIndex {
				if !d.IsInput() {
					return Device{}, apperrors.Newf(apperrors.CodeDeviceNotFound, "device %d has no input channels", d.Index)
				}
				return d, nil
			}
		}
		return Device{}, apperrors.Newf(apperrors.CodeDeviceNotFound, "device %d not found", *opts.DeviceIndex)
	}

	if !opts.UseLineIn {
		for _, d := range devices {
			if d.IsInput() && !isExcluded(d.Name, opts.Excluded) && matchesAny(d.Name, loopbackKeywords) {
				return d, nil
			}
		}
		return Device{}, apperrors.New(apperrors.CodeDeviceNotFound, "no loopback device for system audio")
	}

	best, bestScore := Device{}, 0
	for _, d := range devices {
		if !d.IsInput() || isExcluded(d.Name, opts.Excluded) || matchesAny(d.Name, skipKeywords) {
			continue
		}
		if score := scoreDevice(d.Name); score > bestScore {
			best, bestScore = d, score
		}
	}
	if bestScore > 0 {
		return best, nil
	}

	if fallback != nil && fallback.IsInput() {
		return *fallback, nil
	}
	return Device{}, apperrors.New(apperrors.CodeDeviceNotFound, "no input device available")
}

// scoreDevice ranks microphone-like names: exact keyword 2, generic audio 1.
func scoreDevice(name string) int {
	switch {
	case containsIgnoreCase(name, "microphone"), containsIgnoreCase(name, "mic"):
		return 2
	case containsIgnoreCase(name, "audio"), containsIgnoreCase(name, "input"):
		return 1
	default:
		return 0
	}
}

func isExcluded(name string, excluded []string) bool {
	for _, ex := range excluded {
		if ex != "" && containsIgnoreCase(name, ex) {
			return true
		}
	}
	return false
}

func matchesAny(name string, keywords []string) bool {
	for _, kw := range keywords {
		if containsIgnoreCase(name, kw) {
			return true
		}
	}
	return false
}

func containsIgnoreCase(s, substr string) bool {
	return len(s) >= len(substr) && (s == substr || containsIgnoreCaseImpl(s, substr))
}

const asciiCaseOffset = 'a' - 'A'

func containsIgnoreCaseImpl(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		match := true
		for j := 0; j < len(substr); j++ {
			c1, c2 := s[i+j], substr[j]
			if c1 >= 'A' && c1 <= 'Z' {
				c1 += asciiCaseOffset
			}
			if c2 >= 'A' && c2 <= 'Z' {
				c2 += asciiCaseOffset
			}
			if c1 != c2 {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
