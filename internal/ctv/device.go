// Package ctv detects Connected TV players and the media they can decode.
package ctv

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/thenexusengine/tne_vastplayer/pkg/vast"
)

// DeviceType represents different Connected TV device types
type DeviceType string

const (
	DeviceRoku        DeviceType = "roku"
	DeviceFireTV      DeviceType = "firetv"
	DeviceAppleTV     DeviceType = "appletv"
	DeviceChromecast  DeviceType = "chromecast"
	DeviceAndroidTV   DeviceType = "androidtv"
	DeviceSamsung     DeviceType = "samsung"
	DeviceLG          DeviceType = "lg"
	DeviceVizio       DeviceType = "vizio"
	DeviceXbox        DeviceType = "xbox"
	DevicePlayStation DeviceType = "playstation"
	DeviceUnknown     DeviceType = ""
)

// Device is what a player tells us about itself
type Device struct {
	UA    string
	Make  string
	Model string
}

// DeviceInfo contains parsed CTV device information
type DeviceInfo struct {
	Type  DeviceType
	IsCTV bool
	Make  string
	Model string
}

type uaPattern struct {
	device DeviceType
	re     *regexp.Regexp
}

// Checked in order; Fire TV and Android TV both report Android, so the more
// specific pattern comes first.
var uaPatterns = []uaPattern{
	{DeviceRoku, regexp.MustCompile(`(?i)roku`)},
	{DeviceFireTV, regexp.MustCompile(`(?i)aft[a-z]|amazon.*fire|fire\s*tv`)},
	{DeviceAppleTV, regexp.MustCompile(`(?i)apple.*tv|tvos`)},
	{DeviceChromecast, regexp.MustCompile(`(?i)chromecast|crkey|google\s*tv`)},
	{DeviceAndroidTV, regexp.MustCompile(`(?i)android.*tv|android\s+tv`)},
	{DeviceSamsung, regexp.MustCompile(`(?i)samsung.*smart.*tv|tizen`)},
	{DeviceLG, regexp.MustCompile(`(?i)lg.*smart.*tv|webos.*tv|web0s`)},
	{DeviceVizio, regexp.MustCompile(`(?i)vizio`)},
	{DeviceXbox, regexp.MustCompile(`(?i)xbox`)},
	{DevicePlayStation, regexp.MustCompile(`(?i)playstation|ps[345]`)},
}

type hintPattern struct {
	device DeviceType
	makes  []string
	models []string
}

var hintPatterns = []hintPattern{
	{DeviceRoku, []string{"roku"}, []string{"roku"}},
	{DeviceFireTV, []string{"amazon", "aft"}, []string{"aft", "fire", "firetv"}},
	{DeviceAppleTV, []string{"apple"}, []string{"appletv", "apple tv"}},
	{DeviceChromecast, []string{"google", "chromecast"}, []string{"chromecast"}},
	{DeviceAndroidTV, []string{"android"}, []string{"android tv", "androidtv"}},
	{DeviceSamsung, []string{"samsung"}, []string{"smart tv", "tizen"}},
	{DeviceLG, []string{"lg"}, []string{"smart tv", "webos"}},
	{DeviceVizio, []string{"vizio"}, []string{"vizio"}},
	{DeviceXbox, []string{"microsoft", "xbox"}, []string{"xbox"}},
	{DevicePlayStation, []string{"sony", "playstation"}, []string{"ps3", "ps4", "ps5", "playstation"}},
}

// DetectDevice identifies the CTV platform from the user agent, then from
// make and model hints.
func DetectDevice(d Device) *DeviceInfo {
	info := &DeviceInfo{Make: d.Make, Model: d.Model}

	if d.UA != "" {
		if t := detectFromUA(d.UA); t != DeviceUnknown {
			info.Type = t
			info.IsCTV = true
			return info
		}
	}
	if d.Make != "" || d.Model != "" {
		if t := detectFromMakeModel(d.Make, d.Model); t != DeviceUnknown {
			info.Type = t
			info.IsCTV = true
		}
	}
	return info
}

func detectFromUA(ua string) DeviceType {
	for _, p := range uaPatterns {
		if p.re.MatchString(ua) {
			return p.device
		}
	}
	return DeviceUnknown
}

// detectFromMakeModel matches the make first and confirms it with the model
// when one is given; a model alone can still identify the device.
func detectFromMakeModel(make, model string) DeviceType {
	makeLower := strings.ToLower(make)
	modelLower := strings.ToLower(model)

	for _, p := range hintPatterns {
		if !containsAny(makeLower, p.makes) {
			continue
		}
		if model == "" || containsAny(modelLower, p.models) {
			return p.device
		}
	}
	if model != "" {
		for _, p := range hintPatterns {
			if containsAny(modelLower, p.models) {
				return p.device
			}
		}
	}
	return DeviceUnknown
}

func containsAny(s string, subs []string) bool {
	if s == "" {
		return false
	}
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// DeviceCapabilities represents capabilities of a CTV device
type DeviceCapabilities struct {
	SupportsVPAID   bool
	MaxBitrate      int // kbps
	PreferredFormat string
}

// GetCapabilities returns estimated device capabilities based on device type
func GetCapabilities(deviceType DeviceType) DeviceCapabilities {
	switch deviceType {
	case DeviceAppleTV, DeviceXbox, DevicePlayStation:
		return DeviceCapabilities{MaxBitrate: 15000, PreferredFormat: "video/mp4"}
	case DeviceRoku:
		return DeviceCapabilities{MaxBitrate: 8000, PreferredFormat: "video/mp4"}
	case DeviceFireTV:
		return DeviceCapabilities{MaxBitrate: 10000, PreferredFormat: "video/mp4"}
	case DeviceChromecast, DeviceAndroidTV:
		return DeviceCapabilities{SupportsVPAID: true, MaxBitrate: 10000, PreferredFormat: "video/webm"}
	case DeviceSamsung, DeviceLG, DeviceVizio:
		return DeviceCapabilities{SupportsVPAID: true, MaxBitrate: 8000, PreferredFormat: "video/mp4"}
	default:
		return DeviceCapabilities{MaxBitrate: 5000, PreferredFormat: "video/mp4"}
	}
}

// FilterMediaFiles keeps the files the device can play, preferred format
// first and markup order otherwise. Files with no declared bitrate are kept.
// When nothing survives the input is returned unchanged so the ad stays
// playable.
func (c DeviceCapabilities) FilterMediaFiles(files []vast.MediaFile) []vast.MediaFile {
	var preferred, rest []vast.MediaFile
	for _, mf := range files {
		if mf.APIFramework == "VPAID" && !c.SupportsVPAID {
			continue
		}
		if br, err := strconv.Atoi(strings.TrimSpace(mf.Bitrate)); err == nil && c.MaxBitrate > 0 && br > c.MaxBitrate {
			continue
		}
		if c.PreferredFormat != "" && strings.EqualFold(mf.Type, c.PreferredFormat) {
			preferred = append(preferred, mf)
		} else {
			rest = append(rest, mf)
		}
	}
	if len(preferred)+len(rest) == 0 {
		return files
	}
	return append(preferred, rest...)
}
