package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration 允许在配置中使用 "30s" 这样的写法。
type Duration time.Duration

// Std 返回标准库类型。
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalText 供 TOML 与 YAML 解码使用。
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("无效的时长 %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText 实现 encoding.TextMarshaler。
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalJSON 接受字符串或以秒为单位的数字。
func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch value := raw.(type) {
	case string:
		return d.UnmarshalText([]byte(value))
	case float64:
		*d = Duration(value * float64(time.Second))
		return nil
	default:
		return fmt.Errorf("无效的时长: %s", data)
	}
}
