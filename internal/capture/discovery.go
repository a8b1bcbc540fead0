package capture

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DeviceAuto はカメラデバイスを自動で選ぶ指定
const DeviceAuto = "auto"

// ErrNoDevice は使えるカメラデバイスが無いことを表す
var ErrNoDevice = errors.New("capture: no usable video device")

var videoDevicePattern = regexp.MustCompile(`video(\d+)$`)

// Discovery はV4L2カメラデバイスを探す
type Discovery struct {
	pattern string
	// formats はデバイスの対応フォーマット一覧（v4l2-ctl の出力）を返す
	formats func(ctx context.Context, device string) (string, error)
}

// NewDiscovery は /dev/video* を探す Discovery を作成する
func NewDiscovery() *Discovery {
	return &Discovery{
		pattern: "/dev/video*",
		formats: listFormats,
	}
}

// Scan は映像を出せるデバイスを番号順に返す。
// メタデータ用のノードなど、MJPEG・YUYV を出せないデバイスは除く。
func (d *Discovery) Scan(ctx context.Context) ([]string, error) {
	matches, err := filepath.Glob(d.pattern)
	if err != nil {
		return nil, fmt.Errorf("デバイスのスキャンに失敗: %w", err)
	}

	sort.Slice(matches, func(i, j int) bool {
		return deviceNumber(matches[i]) < deviceNumber(matches[j])
	})

	var devices []string
	for _, device := range matches {
		if err := ctx.Err(); err != nil {
			return devices, err
		}
		if deviceNumber(device) < 0 {
			continue
		}

		out, err := d.formats(ctx, device)
		if err != nil {
			continue
		}
		if strings.Contains(out, "MJPG") || strings.Contains(out, "YUYV") {
			devices = append(devices, device)
		}
	}

	return devices, nil
}

// First は最も番号の小さい使えるデバイスを返す
func (d *Discovery) First(ctx context.Context) (string, error) {
	devices, err := d.Scan(ctx)
	if err != nil {
		return "", err
	}
	if len(devices) == 0 {
		return "", ErrNoDevice
	}
	return devices[0], nil
}

// listFormats は v4l2-ctl でデバイスの対応フォーマットを取得する
func listFormats(ctx context.Context, device string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, "v4l2-ctl", "--device", device, "--list-formats").Output()
	if err != nil {
		return "", fmt.Errorf("フォーマット一覧の取得に失敗 (%s): %w", device, err)
	}
	return string(out), nil
}

// deviceNumber は /dev/videoN の N を返す。該当しなければ -1
func deviceNumber(device string) int {
	m := videoDevicePattern.FindStringSubmatch(device)
	if len(m) < 2 {
		return -1
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return -1
	}
	return n
}
