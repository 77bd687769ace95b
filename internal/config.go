package internal

import (
	"fmt"

	"github.com/spf13/viper"
)

type PbtreeConfig struct {
	Storage struct {
		Mode     string `mapstructure:"mode"`
		File     string `mapstructure:"file"`
		PageSize int    `mapstructure:"page_size"`
	} `mapstructure:"storage"`
	Btree struct {
		BufferPoolPages int `mapstructure:"buffer_pool_pages"`
		InlineKeyLimit  int `mapstructure:"inline_key_limit"`
		OidOverflowFrac int `mapstructure:"oid_overflow_fraction"`
	} `mapstructure:"btree"`
	Server struct {
		Port  int  `mapstructure:"port"`
		Debug bool `mapstructure:"debug"`
	} `mapstructure:"server"`
}

type Config struct {
	Mode string
}

func LoadConfig(path string) (*PbtreeConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg PbtreeConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}
