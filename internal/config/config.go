package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// AppConfig 应用配置
type AppConfig struct {
	Server     ServerConfig     `toml:"server"`
	Data       DataConfig       `toml:"data"`
	Excel      ExcelConfig      `toml:"excel"`
	Classifier ClassifierConfig `toml:"classifier"`
	Rules      RulesConfig      `toml:"rules"`
	Storage    StorageConfig    `toml:"storage"`
	Logging    LoggingConfig    `toml:"logging"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port    int  `toml:"port"`
	DevMode bool `toml:"dev_mode"`
}

// DataConfig 数据配置
type DataConfig struct {
	DataDir string `toml:"data_dir"`
	// JobRetention 任务记录保留时长，<=0 不清理
	JobRetention Duration `toml:"job_retention"`
}

// ExcelConfig 输出模板配置
type ExcelConfig struct {
	TemplatePath string `toml:"template_path"`
	Sheet        string `toml:"sheet"`
	HeaderRow    int    `toml:"header_row"`
	DataStartRow int    `toml:"data_start_row"`
}

// ClassifierConfig 外部补全服务配置
type ClassifierConfig struct {
	Provider          string   `toml:"provider"` // openai / gemini / stub
	Model             string   `toml:"model"`
	BaseURL           string   `toml:"base_url"`
	APIKey            string   `toml:"api_key"`
	Workers           int      `toml:"workers"`
	RequestsPerMinute int      `toml:"requests_per_minute"`
	MaxAttempts       int      `toml:"max_attempts"`
	InitialBackoff    Duration `toml:"initial_backoff"`
	MaxBackoff        Duration `toml:"max_backoff"`
	CallTimeout       Duration `toml:"call_timeout"`
	CacheTTL          Duration `toml:"cache_ttl"`
}

// RulesConfig 分类词表与位号剔除规则（业务规则，放在配置中维护）
// 词表按子串匹配，文本小写后首尾各补一个空格，可用前导/尾随空格表示词边界
type RulesConfig struct {
	Capacitor         []string `toml:"capacitor"`
	Resistor          []string `toml:"resistor"`
	IC                []string `toml:"ic"`
	LED               []string `toml:"led"`
	Connector         []string `toml:"connector"`
	Other             []string `toml:"other"`
	DesignatorPrefix  bool     `toml:"designator_prefix"`
	TestPointPrefixes []string `toml:"test_point_prefixes"`
	Delimiters        string   `toml:"delimiters"`
}

// StorageConfig S3 兼容对象存储配置（输入文件可用 s3://bucket/key）
type StorageConfig struct {
	Endpoint        string `toml:"endpoint"`
	Region          string `toml:"region"`
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
	UsePathStyle    bool   `toml:"use_path_style"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level      string `toml:"level"`
	Format     string `toml:"format"` // json / console
	OutputPath string `toml:"output_path"`
}

// LoadConfigInfo 配置加载元信息
type LoadConfigInfo struct {
	Path          string
	PortSpecified bool
}

// DefaultConfig 默认配置
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:    20262,
			DevMode: false,
		},
		Data: DataConfig{
			DataDir:      "data",
			JobRetention: Duration(30 * 24 * time.Hour),
		},
		Excel: ExcelConfig{
			TemplatePath: "",
			Sheet:        "BOM",
			HeaderRow:    4,
			DataStartRow: 5,
		},
		Classifier: ClassifierConfig{
			Provider:          "openai",
			Model:             "gpt-4o-mini",
			Workers:           4,
			RequestsPerMinute: 60,
			MaxAttempts:       3,
			InitialBackoff:    Duration(500 * time.Millisecond),
			MaxBackoff:        Duration(10 * time.Second),
			CallTimeout:       Duration(30 * time.Second),
			CacheTTL:          Duration(30 * time.Minute),
		},
		Rules: DefaultRules(),
		Storage: StorageConfig{
			Region:       "us-east-1",
			UsePathStyle: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// DefaultRules 默认分类词表
func DefaultRules() RulesConfig {
	return RulesConfig{
		Capacitor:         []string{"capacitor", " cap ", "mlcc", "电容"},
		Resistor:          []string{"resistor", " res ", "thermistor", "电阻"},
		IC:                []string{" ic ", "mcu", "microcontroller", "regulator", "op amp", "opamp", "eeprom", "flash", "芯片", "集成电路"},
		LED:               []string{" led", "发光二极管"},
		Connector:         []string{"connector", "header", "socket", "terminal", "usb", "连接器", "端子"},
		Other:             []string{"inductor", "diode", "transistor", "mosfet", "crystal", "fuse", "电感", "二极管", "晶振"},
		DesignatorPrefix:  true,
		TestPointPrefixes: []string{"TP"},
		Delimiters:        ",; \t\n",
	}
}

func isPortSpecifiedInToml(data []byte) bool {
	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return false
	}

	serverAny, ok := raw["server"]
	if !ok {
		return false
	}

	serverMap, ok := serverAny.(map[string]any)
	if !ok {
		return false
	}

	_, ok = serverMap["port"]
	return ok
}

// GetExeDir 获取可执行文件所在目录
func GetExeDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.Dir(exe), nil
}

// DefaultConfigPath 默认配置文件路径（可执行文件同目录下的 config.toml）
func DefaultConfigPath() string {
	exeDir, err := GetExeDir()
	if err != nil {
		// 无法获取可执行文件目录，使用当前目录
		exeDir = "."
	}
	return filepath.Join(exeDir, "config.toml")
}

// LoadConfigWithInfo 从 config.toml 加载配置并返回元信息，path 为空时使用默认路径
func LoadConfigWithInfo(path string) (*AppConfig, LoadConfigInfo, error) {
	if path == "" {
		path = DefaultConfigPath()
	}
	info := LoadConfigInfo{Path: path}
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// 配置文件不存在，使用默认配置
			applyEnv(config)
			return config, info, nil
		}
		return nil, info, err
	}

	info.PortSpecified = isPortSpecifiedInToml(data)

	if err := toml.Unmarshal(data, config); err != nil {
		return nil, info, err
	}

	applyEnv(config)
	return config, info, nil
}

// LoadConfig 加载配置
func LoadConfig(path string) (*AppConfig, error) {
	config, _, err := LoadConfigWithInfo(path)
	return config, err
}

// applyEnv 环境变量覆盖（密钥不建议写入配置文件）
func applyEnv(config *AppConfig) {
	if v := os.Getenv("BOMFLOW_TEMPLATE_PATH"); v != "" {
		config.Excel.TemplatePath = v
	}
	if v := os.Getenv("BOMFLOW_API_KEY"); v != "" {
		config.Classifier.APIKey = v
	}
	if config.Classifier.APIKey == "" {
		switch config.Classifier.Provider {
		case "openai":
			config.Classifier.APIKey = os.Getenv("OPENAI_API_KEY")
		case "gemini":
			config.Classifier.APIKey = os.Getenv("GEMINI_API_KEY")
		}
	}
	if v := os.Getenv("BOMFLOW_S3_ENDPOINT"); v != "" {
		config.Storage.Endpoint = v
	}
	if v := os.Getenv("BOMFLOW_S3_REGION"); v != "" {
		config.Storage.Region = v
	}
	if v := os.Getenv("BOMFLOW_S3_ACCESS_KEY_ID"); v != "" {
		config.Storage.AccessKeyID = v
	}
	if v := os.Getenv("BOMFLOW_S3_SECRET_ACCESS_KEY"); v != "" {
		config.Storage.SecretAccessKey = v
	}
}

// SaveConfig 保存配置到指定路径
func SaveConfig(config *AppConfig, path string) error {
	if path == "" {
		path = DefaultConfigPath()
	}

	data, err := toml.Marshal(config)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// EnsureDataDir 确保数据目录存在（相对路径以可执行文件目录为基准）
func EnsureDataDir(config *AppConfig) (string, error) {
	dataDir := config.Data.DataDir
	if !filepath.IsAbs(dataDir) {
		exeDir, err := GetExeDir()
		if err != nil {
			exeDir = "."
		}
		dataDir = filepath.Join(exeDir, dataDir)
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return "", err
	}

	// 创建子目录
	subdirs := []string{"uploads", "outputs"}
	for _, subdir := range subdirs {
		path := filepath.Join(dataDir, subdir)
		if err := os.MkdirAll(path, 0755); err != nil {
			return "", err
		}
	}

	return dataDir, nil
}
