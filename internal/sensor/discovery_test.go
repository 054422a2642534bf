package sensor

import (
	"context"
	"errors"
	"reflect"
	"slices"
	"testing"
	"time"
)

const v4l2InfoOutput = `Driver Info:
	Driver name      : uvcvideo
	Card type        : Intel(R) RealSense(TM) Depth Ca
	Bus info         : usb-0000:00:14.0-1
	Driver version   : 6.8.12
`

const v4l2FormatsOutput = `ioctl: VIDIOC_ENUM_FMT
	Type: Video Capture

	[0]: 'YUYV' (YUYV 4:2:2)
		Size: Discrete 1280x720
			Interval: Discrete 0.033s (30.000 fps)
		Size: Discrete 640x480
			Interval: Discrete 0.033s (30.000 fps)
	[1]: 'MJPG' (Motion-JPEG, compressed)
		Size: Discrete 1280x720
			Interval: Discrete 0.033s (30.000 fps)
		Size: Discrete 1920x1080
			Interval: Discrete 0.033s (30.000 fps)
`

const v4l2DepthOnlyOutput = `ioctl: VIDIOC_ENUM_FMT
	Type: Video Capture

	[0]: 'Z16 ' (16-bit Depth)
		Size: Discrete 1280x720
	[1]: 'GREY' (8-bit Greyscale)
		Size: Discrete 1280x720
`

func TestParseV4L2Info(t *testing.T) {
	name, driver := parseV4L2Info([]byte(v4l2InfoOutput))
	if name != "Intel(R) RealSense(TM) Depth Ca" {
		t.Errorf("Unexpected name %q", name)
	}
	if driver != "uvcvideo" {
		t.Errorf("Unexpected driver %q", driver)
	}

	// 該当行が無ければ空
	name, driver = parseV4L2Info([]byte("garbage"))
	if name != "" || driver != "" {
		t.Errorf("Expected empty values, got %q %q", name, driver)
	}
}

func TestParseV4L2Formats(t *testing.T) {
	testCases := []struct {
		name        string
		output      string
		formats     []string
		resolutions []Resolution
		color       bool
	}{
		{
			name:    "カラーカメラ",
			output:  v4l2FormatsOutput,
			formats: []string{"YUYV", "MJPG"},
			resolutions: []Resolution{
				{Width: 640, Height: 480},
				{Width: 1280, Height: 720},
				{Width: 1920, Height: 1080},
			},
			color: true,
		},
		{
			name:        "深度のみのノード",
			output:      v4l2DepthOnlyOutput,
			formats:     []string{"GREY"},
			resolutions: []Resolution{{Width: 1280, Height: 720}},
			color:       false,
		},
		{
			name:   "空出力",
			output: "",
			color:  false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			formats, resolutions := parseV4L2Formats([]byte(tc.output))
			if !reflect.DeepEqual(formats, tc.formats) {
				t.Errorf("formats = %v, want %v", formats, tc.formats)
			}
			if !reflect.DeepEqual(resolutions, tc.resolutions) {
				t.Errorf("resolutions = %v, want %v", resolutions, tc.resolutions)
			}
			if got := hasColorFormat(formats); got != tc.color {
				t.Errorf("hasColorFormat = %v, want %v", got, tc.color)
			}
		})
	}
}

func TestLinuxDiscovery_IsDeviceAvailable(t *testing.T) {
	ctx := context.Background()
	discovery := NewLinuxDiscovery()

	for _, device := range []string{"/dev/video999", "/invalid/path", "/dev/null", ""} {
		if discovery.IsDeviceAvailable(ctx, device) {
			t.Errorf("Expected %q to be unavailable", device)
		}
	}
}

func TestLinuxDiscovery_ScanDevices(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// 実機が無い環境でもエラーにならないこと
	devices, err := NewLinuxDiscovery().ScanDevices(ctx)
	if err != nil {
		t.Fatalf("ScanDevices failed: %v", err)
	}
	t.Logf("Found %d color devices: %v", len(devices), devices)
}

func TestLinuxDiscovery_ProbeFormats(t *testing.T) {
	d := &LinuxDiscovery{
		probeTimeout: time.Second,
		run: func(_ context.Context, name string, args ...string) ([]byte, error) {
			if name != "v4l2-ctl" || !slices.Contains(args, "--list-formats-ext") {
				return nil, errors.New("unexpected command")
			}
			return []byte(v4l2FormatsOutput), nil
		},
	}

	formats, err := d.probeFormats(context.Background(), "/dev/video0")
	if err != nil {
		t.Fatalf("probeFormats failed: %v", err)
	}
	if !hasColorFormat(formats) {
		t.Errorf("Expected color formats, got %v", formats)
	}
}

func TestMockDiscovery(t *testing.T) {
	ctx := context.Background()
	discovery := NewMockDiscovery([]string{"/dev/video0", "/dev/video1"})

	devices, _ := discovery.ScanDevices(ctx)
	if !reflect.DeepEqual(devices, []string{"/dev/video0", "/dev/video1"}) {
		t.Fatalf("Unexpected devices %v", devices)
	}

	info, err := discovery.GetDeviceInfo(ctx, "/dev/video1")
	if err != nil {
		t.Fatalf("GetDeviceInfo failed: %v", err)
	}
	if info.Name != "テストセンサー 2" || info.Driver != "mock" {
		t.Errorf("Unexpected info %+v", info)
	}

	// 返された情報を変更しても内部状態は変わらない
	info.Formats[0] = "XXXX"
	again, _ := discovery.GetDeviceInfo(ctx, "/dev/video1")
	if again.Formats[0] != "MJPG" {
		t.Errorf("Expected internal info to be isolated, got %v", again.Formats)
	}

	if _, err := discovery.GetDeviceInfo(ctx, "/dev/video9"); err == nil {
		t.Error("Expected error for unknown device")
	}
}

func TestMockDiscovery_Mutations(t *testing.T) {
	ctx := context.Background()
	discovery := NewMockDiscovery([]string{"/dev/video0"})

	steps := []struct {
		name   string
		apply  func()
		expect []string
	}{
		{"追加", func() { discovery.AddDevice("/dev/video2") }, []string{"/dev/video0", "/dev/video2"}},
		{"重複追加", func() { discovery.AddDevice("/dev/video2") }, []string{"/dev/video0", "/dev/video2"}},
		{"削除", func() { discovery.RemoveDevice("/dev/video0") }, []string{"/dev/video2"}},
		{"情報設定", func() {
			discovery.SetDeviceInfo(DeviceInfo{Device: "/dev/video4", Name: "深度カメラ", Formats: []string{"Z16"}})
		}, []string{"/dev/video2", "/dev/video4"}},
	}

	for _, step := range steps {
		step.apply()
		devices, _ := discovery.ScanDevices(ctx)
		if !reflect.DeepEqual(devices, step.expect) {
			t.Errorf("%s: devices = %v, want %v", step.name, devices, step.expect)
		}
	}

	if discovery.IsDeviceAvailable(ctx, "/dev/video0") {
		t.Error("Expected removed device to be unavailable")
	}
	info, _ := discovery.GetDeviceInfo(ctx, "/dev/video4")
	if info.Name != "深度カメラ" {
		t.Errorf("Expected custom name, got %s", info.Name)
	}
}

func TestExtractDeviceNumber(t *testing.T) {
	testCases := map[string]int{
		"/dev/video0":  0,
		"/dev/video12": 12,
		"/dev/null":    0,
		"":             0,
	}
	for device, want := range testCases {
		if got := extractDeviceNumber(device); got != want {
			t.Errorf("extractDeviceNumber(%q) = %d, want %d", device, got, want)
		}
	}
}
