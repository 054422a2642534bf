package sensor

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	videoDevicePattern = regexp.MustCompile(`^/dev/video\d+$`)
	deviceNumberRe     = regexp.MustCompile(`video(\d+)$`)
	formatLineRe       = regexp.MustCompile(`^\[\d+\]:\s*'(\w+)'`)
	sizeLineRe         = regexp.MustCompile(`^Size:\s*\w+\s+(\d+)x(\d+)`)
)

// colorFourCCs はカラー出力とみなすV4L2のFourCC
// 深度(Z16)やIR(GREY)しか持たないノードは除外される
var colorFourCCs = []string{"MJPG", "YUYV", "RGB3", "BGR3", "NV12"}

// LinuxDiscovery はv4l2-ctlでV4L2デバイスを調べる
type LinuxDiscovery struct {
	probeTimeout time.Duration
	run          func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewLinuxDiscovery は新しいLinuxDiscoveryを作成する
func NewLinuxDiscovery() Discovery {
	return &LinuxDiscovery{
		probeTimeout: 5 * time.Second,
		run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).Output()
		},
	}
}

// ScanDevices はカラーフレームを出力できるデバイスを番号順に返す
func (d *LinuxDiscovery) ScanDevices(ctx context.Context) ([]string, error) {
	matches, err := filepath.Glob("/dev/video*")
	if err != nil {
		return nil, fmt.Errorf("デバイスのスキャンに失敗: %w", err)
	}
	sort.Slice(matches, func(i, j int) bool {
		return extractDeviceNumber(matches[i]) < extractDeviceNumber(matches[j])
	})

	var devices []string
	for _, device := range matches {
		if err := ctx.Err(); err != nil {
			return devices, err
		}
		if !d.IsDeviceAvailable(ctx, device) {
			continue
		}
		formats, _ := d.probeFormats(ctx, device)
		if hasColorFormat(formats) {
			devices = append(devices, device)
		}
	}
	return devices, nil
}

// IsDeviceAvailable はデバイスノードが存在し読み取り可能か確認する
func (d *LinuxDiscovery) IsDeviceAvailable(_ context.Context, device string) bool {
	if !videoDevicePattern.MatchString(device) {
		return false
	}
	file, err := os.OpenFile(device, os.O_RDONLY, 0)
	if err != nil {
		return false
	}
	_ = file.Close()
	return true
}

// GetDeviceInfo はv4l2-ctlの出力からデバイス情報を組み立てる
// v4l2-ctlが無い環境でも番号ベースの名前で情報を返す
func (d *LinuxDiscovery) GetDeviceInfo(ctx context.Context, device string) (*DeviceInfo, error) {
	if !d.IsDeviceAvailable(ctx, device) {
		return nil, fmt.Errorf("デバイスが利用できません: %s", device)
	}

	info := &DeviceInfo{
		Device: device,
		Name:   fmt.Sprintf("センサー %d", extractDeviceNumber(device)),
		Driver: "v4l2",
	}

	probeCtx, cancel := context.WithTimeout(ctx, d.probeTimeout)
	defer cancel()

	if out, err := d.run(probeCtx, "v4l2-ctl", "--device", device, "--info"); err == nil {
		name, driver := parseV4L2Info(out)
		if name != "" {
			info.Name = name
		}
		if driver != "" {
			info.Driver = driver
		}
	}

	if out, err := d.run(probeCtx, "v4l2-ctl", "--device", device, "--list-formats-ext"); err == nil {
		info.Formats, info.Resolutions = parseV4L2Formats(out)
	}

	return info, nil
}

func (d *LinuxDiscovery) probeFormats(ctx context.Context, device string) ([]string, error) {
	probeCtx, cancel := context.WithTimeout(ctx, d.probeTimeout)
	defer cancel()

	out, err := d.run(probeCtx, "v4l2-ctl", "--device", device, "--list-formats-ext")
	if err != nil {
		return nil, err
	}
	formats, _ := parseV4L2Formats(out)
	return formats, nil
}

// parseV4L2Info は `v4l2-ctl --info` から Card type と Driver name を取り出す
func parseV4L2Info(out []byte) (name, driver string) {
	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), ":")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "Card type":
			name = strings.TrimSpace(value)
		case "Driver name":
			driver = strings.TrimSpace(value)
		}
	}
	return name, driver
}

// parseV4L2Formats は `v4l2-ctl --list-formats-ext` からFourCCと離散解像度を取り出す
// 解像度は重複を除き、面積の小さい順に並べる
func parseV4L2Formats(out []byte) ([]string, []Resolution) {
	var formats []string
	var resolutions []Resolution

	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if m := formatLineRe.FindStringSubmatch(line); m != nil {
			if !slices.Contains(formats, m[1]) {
				formats = append(formats, m[1])
			}
			continue
		}

		if m := sizeLineRe.FindStringSubmatch(line); m != nil {
			w, _ := strconv.Atoi(m[1])
			h, _ := strconv.Atoi(m[2])
			r := Resolution{Width: w, Height: h}
			if !slices.Contains(resolutions, r) {
				resolutions = append(resolutions, r)
			}
		}
	}

	sort.SliceStable(resolutions, func(i, j int) bool {
		return resolutions[i].Width*resolutions[i].Height < resolutions[j].Width*resolutions[j].Height
	})
	return formats, resolutions
}

func hasColorFormat(formats []string) bool {
	for _, f := range formats {
		if slices.Contains(colorFourCCs, f) {
			return true
		}
	}
	return false
}

// extractDeviceNumber は /dev/videoN の N を返す
func extractDeviceNumber(device string) int {
	m := deviceNumberRe.FindStringSubmatch(device)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}

// MockDiscovery はテスト用のDiscovery
// 追加順にデバイスを返す
type MockDiscovery struct {
	mu    sync.RWMutex
	order []string
	infos map[string]DeviceInfo
}

// NewMockDiscovery は指定デバイスを登録したMockDiscoveryを作成する
func NewMockDiscovery(devices []string) *MockDiscovery {
	m := &MockDiscovery{infos: make(map[string]DeviceInfo)}
	for _, device := range devices {
		m.AddDevice(device)
	}
	return m
}

// ScanDevices は登録済みデバイスを返す
func (m *MockDiscovery) ScanDevices(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.order), nil
}

// IsDeviceAvailable は登録済みか判定する
func (m *MockDiscovery) IsDeviceAvailable(_ context.Context, device string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.infos[device]
	return ok
}

// GetDeviceInfo は登録済みデバイスの情報のコピーを返す
func (m *MockDiscovery) GetDeviceInfo(_ context.Context, device string) (*DeviceInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	info, ok := m.infos[device]
	if !ok {
		return nil, fmt.Errorf("デバイスが見つかりません: %s", device)
	}
	info.Resolutions = slices.Clone(info.Resolutions)
	info.Formats = slices.Clone(info.Formats)
	return &info, nil
}

// AddDevice はデフォルト情報でデバイスを登録する
// 登録済みなら何もしない
func (m *MockDiscovery) AddDevice(device string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.infos[device]; ok {
		return
	}
	m.order = append(m.order, device)
	m.infos[device] = DeviceInfo{
		Device:      device,
		Name:        fmt.Sprintf("テストセンサー %d", len(m.order)),
		Driver:      "mock",
		Resolutions: []Resolution{{Width: 640, Height: 480}, {Width: 1280, Height: 720}},
		Formats:     []string{"MJPG"},
	}
}

// SetDeviceInfo はデバイス情報を登録または置き換える
func (m *MockDiscovery) SetDeviceInfo(info DeviceInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.infos[info.Device]; !ok {
		m.order = append(m.order, info.Device)
	}
	m.infos[info.Device] = info
}

// RemoveDevice はデバイスを取り除く（抜去の再現用）
func (m *MockDiscovery) RemoveDevice(device string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.order = slices.DeleteFunc(m.order, func(d string) bool { return d == device })
	delete(m.infos, device)
}
