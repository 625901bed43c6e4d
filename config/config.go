package config

import (
	"fmt"
	"github.com/spf13/viper"
	"os"
	"time"
)

type Config struct {
	Gmail struct {
		CredentialsFile string `mapstructure:"credentials_file"`
		TokenFile       string `mapstructure:"token_file"`
		SearchQuery     string `mapstructure:"search_query"`
		ProcessedLabel  string `mapstructure:"processed_label"`
	} `mapstructure:"gmail"`

	Catalog struct {
		BaseURL  string `mapstructure:"base_url"`
		Email    string `mapstructure:"email"`
		Password string `mapstructure:"password"`
	} `mapstructure:"catalog"`

	OpenAI struct {
		APIKey string `mapstructure:"api_key"`
	} `mapstructure:"openai"`

	Output struct {
		SpreadsheetFile string `mapstructure:"spreadsheet_file"`
		InvoicesDir     string `mapstructure:"invoices_dir"`
	} `mapstructure:"output"`

	Parser struct {
		VendorsFile     string  `mapstructure:"vendors_file"`
		AmountTolerance float64 `mapstructure:"amount_tolerance"`
	} `mapstructure:"parser"`

	OCR struct {
		PdftoppmPath     string `mapstructure:"pdftoppm_path"`
		DPI              int    `mapstructure:"dpi"`
		Language         string `mapstructure:"language"`
		DensityThreshold int    `mapstructure:"density_threshold"`
	} `mapstructure:"ocr"`

	App struct {
		RetryAttempts  int           `mapstructure:"retry_attempts"`
		RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
	} `mapstructure:"app"`
}

func (c *Config) Validate() error {
	var checks = []struct {
		condition bool
		message   string
	}{
		{c.Gmail.CredentialsFile == "", "gmail credentials_file is required"},
		{c.Gmail.SearchQuery == "", "gmail search_query is required"},
		{c.Output.SpreadsheetFile == "", "output spreadsheet_file is required"},
		{c.Output.InvoicesDir == "", "output invoices_dir is required"},
		{c.Parser.AmountTolerance < 0, "parser amount_tolerance must not be negative"},
		{c.OCR.DPI <= 0, "ocr dpi must be positive"},
		{c.App.RetryAttempts < 0, "app retry_attempts must not be negative"},
	}

	for _, check := range checks {
		if check.condition {
			return fmt.Errorf(check.message)
		}
	}

	if _, err := os.Stat(c.Gmail.CredentialsFile); os.IsNotExist(err) {
		return fmt.Errorf("gmail credentials file does not exist: %s", c.Gmail.CredentialsFile)
	}

	return nil
}

func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")

	viper.SetDefault("gmail.token_file", "token.json")
	viper.SetDefault("gmail.search_query", "has:attachment filename:pdf")
	viper.SetDefault("gmail.processed_label", "billfetch-processed")
	viper.SetDefault("output.spreadsheet_file", "invoices_output.xlsx")
	viper.SetDefault("output.invoices_dir", "invoices")
	viper.SetDefault("parser.amount_tolerance", 0.01)
	viper.SetDefault("ocr.pdftoppm_path", "pdftoppm")
	viper.SetDefault("ocr.dpi", 300)
	viper.SetDefault("ocr.language", "eng")
	viper.SetDefault("ocr.density_threshold", 50)
	viper.SetDefault("app.retry_attempts", 3)
	viper.SetDefault("app.retry_base_delay", 2*time.Second)

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}
