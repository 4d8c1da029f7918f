package remote

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/liangyou/appgate/internal/version"
	"github.com/liangyou/appgate/pkg/models"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// ErrMalformedDocument 表示远程文档无法解析为对象。
var ErrMalformedDocument = errors.New("remote: malformed config document")

// 远程文档字段名。
const (
	keyMaintenanceMode     = "maintenance_mode"
	keyMaintenanceTitle    = "maintenance_title"
	keyMaintenanceMessage  = "maintenance_message"
	keyCriticalTitle       = "critical_title"
	keyCriticalMessage     = "critical_message"
	keyOptionalTitle       = "optional_title"
	keyOptionalMessage     = "optional_message"
	keyChangelog           = "changelog"
	keyMinSupportedVersion = "min_supported_version"
	keyLatestVersion       = "latest_version"
	keyStoreURL            = "store_url"
)

var knownFieldKeys = map[string]struct{}{
	keyMaintenanceMode:     {},
	keyMaintenanceTitle:    {},
	keyMaintenanceMessage:  {},
	keyCriticalTitle:       {},
	keyCriticalMessage:     {},
	keyOptionalTitle:       {},
	keyOptionalMessage:     {},
	keyChangelog:           {},
	keyMinSupportedVersion: {},
	keyLatestVersion:       {},
	keyStoreURL:            {},
}

// ParseDocument 将 JSON 文档解析为经过校验的记录。
// 空内容或 null 视为文档不存在，未知字段与类型不符的字段只记录日志。
func ParseDocument(raw []byte, logger *slog.Logger) (models.Document, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return models.Document{}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var data any
	if err := dec.Decode(&data); err != nil {
		return models.Document{}, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}
	return DocumentFromMap(data, logger)
}

// ParseYAMLDocument 将 YAML 文档解析为记录。
// 数字标量保留原始文本，1.10 不会变成 1.1。
func ParseYAMLDocument(raw []byte, logger *slog.Logger) (models.Document, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(raw, &node); err != nil {
		return models.Document{}, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}
	data, err := yamlValue(&node)
	if err != nil {
		return models.Document{}, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}
	return DocumentFromMap(data, logger)
}

func yamlValue(n *yaml.Node) (any, error) {
	switch n.Kind {
	case 0:
		return nil, nil
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return nil, nil
		}
		return yamlValue(n.Content[0])
	case yaml.AliasNode:
		if n.Alias == nil {
			return nil, nil
		}
		return yamlValue(n.Alias)
	case yaml.MappingNode:
		out := make(map[string]any, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			v, err := yamlValue(n.Content[i+1])
			if err != nil {
				return nil, err
			}
			out[n.Content[i].Value] = v
		}
		return out, nil
	case yaml.SequenceNode:
		out := make([]any, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := yamlValue(c)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	}

	switch n.ShortTag() {
	case "!!null":
		return nil, nil
	case "!!bool":
		var b bool
		if err := n.Decode(&b); err != nil {
			return nil, err
		}
		return b, nil
	default:
		// !!int、!!float 与字符串一样保留字面文本。
		return n.Value, nil
	}
}

// DocumentFromMap 从已解码的通用结构构建文档，供 JSON 与 YAML 来源共用。
func DocumentFromMap(data any, logger *slog.Logger) (models.Document, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if data == nil {
		return models.Document{}, nil
	}
	root, ok := toStringMap(data)
	if !ok {
		return models.Document{}, fmt.Errorf("%w: root is %T, want object", ErrMalformedDocument, data)
	}

	doc := models.Document{
		Exists:    true,
		Platforms: make(map[models.PlatformID]models.PlatformOverride),
	}
	doc.Root = parseFields(root, "root", logger)

	for _, id := range models.SupportedPlatforms {
		value, exists := root[string(id)]
		if !exists || value == nil {
			continue
		}
		m, ok := toStringMap(value)
		if !ok {
			logger.Warn("remote config platform override ignored: not an object", "platform", id, "type", fmt.Sprintf("%T", value))
			continue
		}
		doc.Platforms[id] = parseFields(m, string(id), logger)
	}

	var unknown []string
	for key := range root {
		if _, ok := knownFieldKeys[key]; ok {
			continue
		}
		if models.PlatformID(key).Valid() {
			continue
		}
		unknown = append(unknown, key)
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		logger.Debug("remote config contains unknown fields", "fields", unknown)
	}

	if doc.Root.MaintenanceMode == nil {
		logger.Debug("remote config missing field, using default", "field", keyMaintenanceMode, "default", false)
	}
	return doc, nil
}

func parseFields(m map[string]any, scope string, logger *slog.Logger) models.ConfigFields {
	var f models.ConfigFields

	if v, ok := m[keyMaintenanceMode]; ok && v != nil {
		b, err := cast.ToBoolE(unwrapNumber(v))
		if err != nil {
			logger.Warn("remote config field ignored", "scope", scope, "field", keyMaintenanceMode, "error", err)
		} else {
			f.MaintenanceMode = &b
		}
	}

	f.MinSupportedVersion = versionField(m, keyMinSupportedVersion, scope, logger)
	f.LatestVersion = versionField(m, keyLatestVersion, scope, logger)
	f.StoreURL = stringField(m, keyStoreURL, scope, logger)

	f.Texts.Maintenance = models.TextFields{
		Title:   stringField(m, keyMaintenanceTitle, scope, logger),
		Message: stringField(m, keyMaintenanceMessage, scope, logger),
	}
	f.Texts.Critical = models.TextFields{
		Title:   stringField(m, keyCriticalTitle, scope, logger),
		Message: stringField(m, keyCriticalMessage, scope, logger),
	}
	f.Texts.Optional = models.TextFields{
		Title:   stringField(m, keyOptionalTitle, scope, logger),
		Message: stringField(m, keyOptionalMessage, scope, logger),
	}

	if v, ok := m[keyChangelog]; ok && v != nil {
		items, ok := v.([]any)
		if !ok {
			logger.Warn("remote config field ignored: want list", "scope", scope, "field", keyChangelog, "type", fmt.Sprintf("%T", v))
		} else {
			f.Changelog = make([]string, 0, len(items))
			for _, item := range items {
				s, err := cast.ToStringE(unwrapNumber(item))
				if err != nil {
					logger.Warn("remote config changelog entry ignored", "scope", scope, "error", err)
					continue
				}
				f.Changelog = append(f.Changelog, s)
			}
		}
	}
	return f
}

func stringField(m map[string]any, key, scope string, logger *slog.Logger) *string {
	v, ok := m[key]
	if !ok || v == nil {
		return nil
	}
	s, err := cast.ToStringE(unwrapNumber(v))
	if err != nil {
		logger.Warn("remote config field ignored", "scope", scope, "field", key, "error", err)
		return nil
	}
	return &s
}

func versionField(m map[string]any, key, scope string, logger *slog.Logger) *string {
	s := stringField(m, key, scope, logger)
	if s == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*s)
	if trimmed != "" && !version.Valid(trimmed) {
		logger.Warn("remote config version is malformed, comparing leniently", "scope", scope, "field", key, "value", trimmed)
	}
	return &trimmed
}

// unwrapNumber 保留 json.Number 的原始文本，避免 1.10 这类版本号被当作浮点数截断。
func unwrapNumber(v any) any {
	if n, ok := v.(json.Number); ok {
		return n.String()
	}
	return v
}

func toStringMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[cast.ToString(k)] = val
		}
		return out, true
	default:
		return nil, false
	}
}
