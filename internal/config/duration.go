package config

import "time"

// Duration 支持 "500ms" / "30s" 写法的时长
type Duration time.Duration

// UnmarshalText 解析 TOML 字符串
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText 输出为字符串
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std 转为 time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}
