package ctv

import (
	"testing"

	"github.com/thenexusengine/tne_vastplayer/pkg/vast"
)

func TestDetectDevice_UserAgent(t *testing.T) {
	tests := []struct {
		name         string
		ua           string
		expectedType DeviceType
		expectedCTV  bool
	}{
		{"Roku device", "Roku/DVP-9.10 (519.10E04154A)", DeviceRoku, true},
		{"Fire TV AFTMM", "Mozilla/5.0 (Linux; Android 7.1.2; AFTMM) AppleWebKit/537.36", DeviceFireTV, true},
		{"Apple TV", "AppleTV11,1/tvOS 15.0", DeviceAppleTV, true},
		{"Chromecast CrKey", "Mozilla/5.0 (X11; Linux armv7l) CrKey/1.56.500000", DeviceChromecast, true},
		{"Android TV", "Mozilla/5.0 (Linux; Android 9; Android TV) AppleWebKit/537.36", DeviceAndroidTV, true},
		{"Samsung Tizen", "Mozilla/5.0 (SMART-TV; Linux; Tizen 5.0) AppleWebKit/537.36", DeviceSamsung, true},
		{"LG webOS", "Mozilla/5.0 (Web0S; Linux/SmartTV) AppleWebKit/537.36", DeviceLG, true},
		{"Xbox", "Mozilla/5.0 (Windows NT 10.0; Win64; x64; Xbox; Xbox One) AppleWebKit/537.36", DeviceXbox, true},
		{"PlayStation", "Mozilla/5.0 (PlayStation 4 5.55) AppleWebKit/601.2", DevicePlayStation, true},
		{"Regular mobile", "Mozilla/5.0 (iPhone; CPU iPhone OS 14_5 like Mac OS X)", DeviceUnknown, false},
		{"Desktop browser", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36", DeviceUnknown, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := DetectDevice(Device{UA: tt.ua})
			if info.Type != tt.expectedType {
				t.Errorf("expected type %q, got %q", tt.expectedType, info.Type)
			}
			if info.IsCTV != tt.expectedCTV {
				t.Errorf("expected IsCTV %v, got %v", tt.expectedCTV, info.IsCTV)
			}
		})
	}
}

func TestDetectDevice_MakeModel(t *testing.T) {
	tests := []struct {
		name         string
		make         string
		model        string
		expectedType DeviceType
	}{
		{"Roku make only", "Roku", "", DeviceRoku},
		{"Amazon Fire", "Amazon", "AFTMM", DeviceFireTV},
		{"Samsung smart TV", "Samsung", "Smart TV 2021", DeviceSamsung},
		{"LG webOS", "LG", "webOS TV", DeviceLG},
		{"Model only", "", "Xbox Series X", DeviceXbox},
		{"Unknown phone", "Acme", "Phone 3", DeviceUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := DetectDevice(Device{Make: tt.make, Model: tt.model})
			if info.Type != tt.expectedType {
				t.Errorf("expected type %q, got %q", tt.expectedType, info.Type)
			}
			if info.IsCTV != (tt.expectedType != DeviceUnknown) {
				t.Errorf("unexpected IsCTV %v", info.IsCTV)
			}
		})
	}
}

func TestDetectDevice_Empty(t *testing.T) {
	info := DetectDevice(Device{})
	if info.IsCTV || info.Type != DeviceUnknown {
		t.Errorf("expected unknown device, got %+v", info)
	}
}

func TestGetCapabilities(t *testing.T) {
	if caps := GetCapabilities(DeviceRoku); caps.MaxBitrate != 8000 || caps.SupportsVPAID {
		t.Errorf("unexpected roku capabilities: %+v", caps)
	}
	if caps := GetCapabilities(DeviceAndroidTV); !caps.SupportsVPAID || caps.PreferredFormat != "video/webm" {
		t.Errorf("unexpected android tv capabilities: %+v", caps)
	}
	if caps := GetCapabilities(DeviceUnknown); caps.MaxBitrate != 5000 {
		t.Errorf("unexpected default capabilities: %+v", caps)
	}
}

func TestFilterMediaFiles(t *testing.T) {
	files := []vast.MediaFile{
		{URL: "https://cdn.example.com/hi.mp4", Type: "video/mp4", Bitrate: "12000"},
		{URL: "https://cdn.example.com/mid.webm", Type: "video/webm", Bitrate: "4000"},
		{URL: "https://cdn.example.com/mid.mp4", Type: "video/mp4", Bitrate: "4000"},
		{URL: "https://cdn.example.com/unit.js", Type: "application/javascript", APIFramework: "VPAID"},
		{URL: "https://cdn.example.com/any.mp4", Type: "video/mp4"},
	}

	got := GetCapabilities(DeviceRoku).FilterMediaFiles(files)
	want := []string{
		"https://cdn.example.com/mid.mp4",
		"https://cdn.example.com/any.mp4",
		"https://cdn.example.com/mid.webm",
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d files, got %d: %+v", len(want), len(got), got)
	}
	for i, mf := range got {
		if mf.URL != want[i] {
			t.Errorf("file %d: expected %s, got %s", i, want[i], mf.URL)
		}
	}

	vpaid := GetCapabilities(DeviceSamsung).FilterMediaFiles(files[3:4])
	if len(vpaid) != 1 {
		t.Errorf("expected VPAID file kept on a VPAID device, got %d", len(vpaid))
	}
}

func TestFilterMediaFiles_KeepsInputWhenNothingFits(t *testing.T) {
	files := []vast.MediaFile{
		{URL: "https://cdn.example.com/4k.mp4", Type: "video/mp4", Bitrate: "20000"},
	}
	got := GetCapabilities(DeviceRoku).FilterMediaFiles(files)
	if len(got) != 1 || got[0].URL != files[0].URL {
		t.Errorf("expected input returned unchanged, got %+v", got)
	}
}
