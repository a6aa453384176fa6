package config

import "github.com/spf13/viper"

type Config struct {
	Port            string `mapstructure:"PORT"`
	DBDSN           string `mapstructure:"DB_DSN"`
	NatsURL         string `mapstructure:"NATS_URL"`
	CandleSource    string `mapstructure:"CANDLE_SOURCE"`
	KrakenAPIURL    string `mapstructure:"KRAKEN_API_URL"`
	BinanceAPIURL   string `mapstructure:"BINANCE_API_URL"`
	OpenAIAPIURL    string `mapstructure:"OPENAI_API_URL"`
	OpenAIAPIKey    string `mapstructure:"OPENAI_API_KEY"`
	AnthropicAPIURL string `mapstructure:"ANTHROPIC_API_URL"`
	AnthropicAPIKey string `mapstructure:"ANTHROPIC_API_KEY"`
}

func LoadConfig() (config Config, err error) {
	viper.AddConfigPath(".")
	viper.SetConfigName("app")
	viper.SetConfigType("env")
	viper.AutomaticEnv()

	viper.SetDefault("PORT", "8080")
	viper.SetDefault("NATS_URL", "")
	viper.SetDefault("DB_DSN", "")
	viper.SetDefault("CANDLE_SOURCE", "kraken")
	viper.SetDefault("KRAKEN_API_URL", "https://api.kraken.com")
	viper.SetDefault("BINANCE_API_URL", "https://api.binance.com")
	viper.SetDefault("OPENAI_API_URL", "https://api.openai.com/v1/chat/completions")
	viper.SetDefault("ANTHROPIC_API_URL", "https://api.anthropic.com/v1/messages")

	err = viper.ReadInConfig()
	// If the config file is missing we still run on env vars alone.
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		err = nil
	}

	if err != nil {
		return Config{}, err
	}
	err = viper.Unmarshal(&config)
	return
}
