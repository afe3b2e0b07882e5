package staticanalysis

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"
)

// ManifestFileName 解压目录中的 Manifest 文件名
const ManifestFileName = "AndroidManifest.xml"

const permissionPrefix = "android.permission."

var (
	androidNameRe     = regexp.MustCompile(`android:name\s*=\s*"([^"]+)"`)
	permissionShapeRe = regexp.MustCompile(`^android\.permission\.[A-Z][A-Z0-9_]*$`)
)

// knownPermissions 二进制扫描时接受的权限白名单
var knownPermissions = toSet(
	"ACCEPT_HANDOVER", "ACCESS_BACKGROUND_LOCATION", "ACCESS_COARSE_LOCATION",
	"ACCESS_FINE_LOCATION", "ACCESS_MEDIA_LOCATION", "ACCESS_NETWORK_STATE",
	"ACCESS_NOTIFICATION_POLICY", "ACCESS_WIFI_STATE", "ACTIVITY_RECOGNITION",
	"ANSWER_PHONE_CALLS", "BIND_ACCESSIBILITY_SERVICE", "BIND_DEVICE_ADMIN",
	"BIND_NOTIFICATION_LISTENER_SERVICE", "BLUETOOTH", "BLUETOOTH_ADMIN",
	"BLUETOOTH_CONNECT", "BLUETOOTH_SCAN", "BODY_SENSORS", "CALL_PHONE", "CAMERA",
	"CHANGE_NETWORK_STATE", "CHANGE_WIFI_STATE", "DISABLE_KEYGUARD",
	"FOREGROUND_SERVICE", "GET_ACCOUNTS", "GET_TASKS", "INSTALL_PACKAGES", "INTERNET",
	"KILL_BACKGROUND_PROCESSES", "MANAGE_EXTERNAL_STORAGE", "MODIFY_AUDIO_SETTINGS",
	"NFC", "POST_NOTIFICATIONS", "PROCESS_OUTGOING_CALLS", "QUERY_ALL_PACKAGES",
	"READ_CALENDAR", "READ_CALL_LOG", "READ_CONTACTS", "READ_EXTERNAL_STORAGE",
	"READ_MEDIA_IMAGES", "READ_MEDIA_VIDEO", "READ_PHONE_NUMBERS", "READ_PHONE_STATE",
	"READ_SMS", "RECEIVE_BOOT_COMPLETED", "RECEIVE_MMS", "RECEIVE_SMS",
	"RECEIVE_WAP_PUSH", "RECORD_AUDIO", "REORDER_TASKS", "REQUEST_DELETE_PACKAGES",
	"REQUEST_IGNORE_BATTERY_OPTIMIZATIONS", "REQUEST_INSTALL_PACKAGES", "SEND_SMS",
	"SET_WALLPAPER", "SYSTEM_ALERT_WINDOW", "USE_BIOMETRIC", "USE_FINGERPRINT",
	"USE_FULL_SCREEN_INTENT", "VIBRATE", "WAKE_LOCK", "WRITE_CALENDAR",
	"WRITE_CALL_LOG", "WRITE_CONTACTS", "WRITE_EXTERNAL_STORAGE", "WRITE_SETTINGS",
	"WRITE_SMS",
)

func toSet(names ...string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[permissionPrefix+n] = true
	}
	return set
}

// manifestStrategy 一级解析策略
type manifestStrategy struct {
	method ParseMethod
	parse  func(data []byte) (*ManifestInfo, error)
}

// ManifestParser Manifest 解析器（结构化 -> 二进制扫描 -> 正则）
type ManifestParser struct {
	logger     *logrus.Logger
	strategies []manifestStrategy
}

// NewManifestParser 创建 Manifest 解析器
func NewManifestParser(logger *logrus.Logger) *ManifestParser {
	return &ManifestParser{
		logger: logger,
		strategies: []manifestStrategy{
			{method: ParseMethodXML, parse: parseManifestXML},
			{method: ParseMethodBinaryScan, parse: scanBinaryPermissions},
			{method: ParseMethodTextRegex, parse: matchPermissionAttributes},
		},
	}
}

// Parse 解析解压目录下的 Manifest，从不返回错误
func (p *ManifestParser) Parse(dir string) *ManifestInfo {
	info := DefaultManifestInfo()

	path := filepath.Join(dir, ManifestFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			p.logger.WithError(err).WithField("path", path).Warn("Failed to read manifest")
		}
		return info
	}

	parsed := false
	for _, s := range p.strategies {
		out, err := s.parse(data)
		if err != nil {
			p.logger.WithFields(logrus.Fields{
				"method": s.method,
				"error":  err.Error(),
			}).Debug("Manifest strategy failed")
			continue
		}
		if !parsed {
			info.ParseMethod = s.method
			parsed = true
		}
		mergeManifest(info, out)

		if len(out.Permissions) > 0 {
			info.Permissions = out.Permissions
			info.ParseMethod = s.method
			break
		}
	}

	p.logger.WithFields(logrus.Fields{
		"package_name": info.PackageName,
		"permissions":  len(info.Permissions),
		"method":       info.ParseMethod,
	}).Debug("Manifest parsed")

	return info
}

// mergeManifest 用后一级结果补全仍为空的字段
func mergeManifest(dst, src *ManifestInfo) {
	if dst.PackageName == unknownValue && src.PackageName != "" {
		dst.PackageName = src.PackageName
	}
	if dst.VersionName == unknownValue && src.VersionName != "" {
		dst.VersionName = src.VersionName
	}
	if dst.VersionCode == unknownValue && src.VersionCode != "" {
		dst.VersionCode = src.VersionCode
	}
	if len(dst.Activities) == 0 && len(src.Activities) > 0 {
		dst.Activities = src.Activities
	}
	if len(dst.Services) == 0 && len(src.Services) > 0 {
		dst.Services = src.Services
	}
	if len(dst.Receivers) == 0 && len(src.Receivers) > 0 {
		dst.Receivers = src.Receivers
	}
	if len(dst.Providers) == 0 && len(src.Providers) > 0 {
		dst.Providers = src.Providers
	}
}

// parseManifestXML 明文 XML 逐 token 解析，属性按本地名匹配
func parseManifestXML(data []byte) (*ManifestInfo, error) {
	decoder := xml.NewDecoder(bytes.NewReader(data))
	info := &ManifestInfo{}
	seenManifest := false
	perms := newOrderedSet()

	for {
		tok, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("xml decode: %w", err)
		}

		el, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		name := attrValue(el, "name")
		switch el.Name.Local {
		case "manifest":
			seenManifest = true
			info.PackageName = attrValue(el, "package")
			info.VersionName = attrValue(el, "versionName")
			info.VersionCode = attrValue(el, "versionCode")
		case "uses-permission", "uses-permission-sdk-23":
			perms.add(name)
		case "activity", "activity-alias":
			info.Activities = appendNonEmpty(info.Activities, name)
		case "service":
			info.Services = appendNonEmpty(info.Services, name)
		case "receiver":
			info.Receivers = appendNonEmpty(info.Receivers, name)
		case "provider":
			info.Providers = appendNonEmpty(info.Providers, name)
		}
	}

	if !seenManifest {
		return nil, errors.New("no <manifest> element")
	}

	info.Permissions = perms.items
	qualifyComponents(info)
	return info, nil
}

func attrValue(el xml.StartElement, local string) string {
	for _, a := range el.Attr {
		if a.Name.Local == local {
			return strings.TrimSpace(a.Value)
		}
	}
	return ""
}

func appendNonEmpty(list []string, v string) []string {
	if v == "" {
		return list
	}
	return append(list, v)
}

// qualifyComponents 补全 ".MainActivity" 形式的相对类名
func qualifyComponents(info *ManifestInfo) {
	if info.PackageName == "" {
		return
	}
	for _, list := range [][]string{info.Activities, info.Services, info.Receivers, info.Providers} {
		for i, n := range list {
			if strings.HasPrefix(n, ".") {
				list[i] = info.PackageName + n
			}
		}
	}
}

// scanBinaryPermissions 在编译后的二进制 Manifest 中查找权限字符串
// 同时扫描原始字节和两种对齐下的 UTF-16LE 视图，结果经白名单过滤
func scanBinaryPermissions(data []byte) (*ManifestInfo, error) {
	perms := newOrderedSet()
	for _, view := range [][]byte{data, utf16View(data, 0), utf16View(data, 1)} {
		for _, candidate := range collectPermissionTokens(view) {
			if permissionShapeRe.MatchString(candidate) && knownPermissions[candidate] {
				perms.add(candidate)
			}
		}
	}
	return &ManifestInfo{Permissions: perms.items}, nil
}

// utf16View 按 2 字节码元解码，ASCII 码元保留低字节，其余码元（含 0x0000 结束符）写成 NUL 分隔
func utf16View(data []byte, offset int) []byte {
	if offset >= len(data) {
		return nil
	}
	out := make([]byte, 0, (len(data)-offset)/2)
	for i := offset; i+1 < len(data); i += 2 {
		if lo, hi := data[i], data[i+1]; hi == 0 && lo != 0 && lo < 0x80 {
			out = append(out, lo)
		} else {
			out = append(out, 0)
		}
	}
	return out
}

func collectPermissionTokens(buf []byte) []string {
	prefix := []byte(permissionPrefix)
	var tokens []string
	for i := 0; i < len(buf); {
		idx := bytes.Index(buf[i:], prefix)
		if idx < 0 {
			break
		}
		start := i + idx
		end := start + len(prefix)
		for end < len(buf) && isPermissionChar(buf[end]) {
			end++
		}
		tokens = append(tokens, strings.TrimRight(string(buf[start:end]), "."))
		i = end
	}
	return tokens
}

func isPermissionChar(c byte) bool {
	return c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '_' || c == '.'
}

// matchPermissionAttributes 对 android:name 属性做宽松正则匹配
func matchPermissionAttributes(data []byte) (*ManifestInfo, error) {
	perms := newOrderedSet()
	for _, m := range androidNameRe.FindAllStringSubmatch(string(data), -1) {
		if strings.HasPrefix(m[1], permissionPrefix) {
			perms.add(m[1])
		}
	}
	return &ManifestInfo{Permissions: perms.items}, nil
}

type orderedSet struct {
	seen  map[string]bool
	items []string
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: make(map[string]bool), items: []string{}}
}

func (s *orderedSet) add(v string) {
	if v == "" || s.seen[v] {
		return
	}
	s.seen[v] = true
	s.items = append(s.items, v)
}
