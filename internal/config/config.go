package config

import (
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store  StoreConfig  `yaml:"store" mapstructure:"store"`
	Sheet  SheetConfig  `yaml:"sheet" mapstructure:"sheet"`
	Filing FilingConfig `yaml:"filing" mapstructure:"filing"`
	Portal PortalConfig `yaml:"portal" mapstructure:"portal"`
	Batch  BatchConfig  `yaml:"batch" mapstructure:"batch"`
	Server ServerConfig `yaml:"server" mapstructure:"server"`
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the checkpoint ledger backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// SheetConfig describes the source spreadsheet and its column names.
type SheetConfig struct {
	Path              string   `yaml:"path" mapstructure:"path"`
	SheetName         string   `yaml:"sheet_name" mapstructure:"sheet_name"`
	SkipRows          int      `yaml:"skip_rows" mapstructure:"skip_rows"`
	Encoding          string   `yaml:"encoding" mapstructure:"encoding"`
	NameColumn        string   `yaml:"name_column" mapstructure:"name_column"`
	IdentityColumn    string   `yaml:"identity_column" mapstructure:"identity_column"`
	RelationColumn    string   `yaml:"relation_column" mapstructure:"relation_column"`
	OperatorColumn    string   `yaml:"operator_column" mapstructure:"operator_column"`
	HeadAmountColumns []string `yaml:"head_amount_columns" mapstructure:"head_amount_columns"`
	DepAmountColumns  []string `yaml:"dependent_amount_columns" mapstructure:"dependent_amount_columns"`
	HeadLabel         string   `yaml:"head_label" mapstructure:"head_label"`
}

// FilingConfig holds the fixed parameters of every declaration in a run.
type FilingConfig struct {
	Period            string `yaml:"period" mapstructure:"period"`
	EstablishmentCNPJ string `yaml:"establishment_cnpj" mapstructure:"establishment_cnpj"`
	OperatorCNPJ      string `yaml:"operator_cnpj" mapstructure:"operator_cnpj"`
}

// PortalConfig configures the page automation driver.
type PortalConfig struct {
	Driver              string        `yaml:"driver" mapstructure:"driver"`
	URL                 string        `yaml:"url" mapstructure:"url"`
	Headless            bool          `yaml:"headless" mapstructure:"headless"`
	ProfileDir          string        `yaml:"profile_dir" mapstructure:"profile_dir"`
	UserAgent           string        `yaml:"user_agent" mapstructure:"user_agent"`
	LoginTimeout        time.Duration `yaml:"login_timeout" mapstructure:"login_timeout"`
	ActionTimeout       time.Duration `yaml:"action_timeout" mapstructure:"action_timeout"`
	ModalTimeout        time.Duration `yaml:"modal_timeout" mapstructure:"modal_timeout"`
	ConfirmationTimeout time.Duration `yaml:"confirmation_timeout" mapstructure:"confirmation_timeout"`
	NextGroupTimeout    time.Duration `yaml:"next_group_timeout" mapstructure:"next_group_timeout"`
	SignerWait          time.Duration `yaml:"signer_wait" mapstructure:"signer_wait"`
	TypingDelay         time.Duration `yaml:"typing_delay" mapstructure:"typing_delay"`
	ActionsPerSecond    float64       `yaml:"actions_per_second" mapstructure:"actions_per_second"`
	SignMethod          string        `yaml:"sign_method" mapstructure:"sign_method"`
	RetryAttempts       int           `yaml:"retry_attempts" mapstructure:"retry_attempts"`
}

// BatchConfig configures the batch driver and planner policies.
type BatchConfig struct {
	PauseBetweenGroups time.Duration `yaml:"pause_between_groups" mapstructure:"pause_between_groups"`
	ConfirmationPolicy string        `yaml:"confirmation_policy" mapstructure:"confirmation_policy"`
	ManualReview       bool          `yaml:"manual_review" mapstructure:"manual_review"`
}

// ServerConfig configures the mock portal.
type ServerConfig struct {
	Port         int    `yaml:"port" mapstructure:"port"`
	DatabasePath string `yaml:"database_path" mapstructure:"database_path"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

const (
	ConfirmationLenient = "lenient"
	ConfirmationStrict  = "strict"
)

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("REINF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "checkpoint_efd.db")
	v.SetDefault("sheet.path", "dados.xlsx")
	v.SetDefault("sheet.skip_rows", 1)
	v.SetDefault("sheet.encoding", "utf-8")
	v.SetDefault("sheet.name_column", "NOME")
	v.SetDefault("sheet.identity_column", "CPF")
	v.SetDefault("sheet.relation_column", "DEPENDENCIA")
	v.SetDefault("sheet.operator_column", "CNPJ_OPERADORA")
	v.SetDefault("sheet.head_amount_columns", []string{"VALOR_PLANO", "TOTAL"})
	v.SetDefault("sheet.dependent_amount_columns", []string{"VALOR_DEPENDENTE", "TOTAL"})
	v.SetDefault("sheet.head_label", "TITULAR")
	v.SetDefault("portal.driver", "chrome")
	v.SetDefault("portal.url", "https://cav.receita.fazenda.gov.br/ecac/Aplicacao.aspx?id=10019&origem=menu")
	v.SetDefault("portal.profile_dir", "chrome_efd")
	v.SetDefault("portal.login_timeout", 5*time.Minute)
	v.SetDefault("portal.action_timeout", 10*time.Second)
	v.SetDefault("portal.modal_timeout", 3*time.Second)
	v.SetDefault("portal.confirmation_timeout", 60*time.Second)
	v.SetDefault("portal.next_group_timeout", 15*time.Second)
	v.SetDefault("portal.signer_wait", 5*time.Second)
	v.SetDefault("portal.typing_delay", 20*time.Millisecond)
	v.SetDefault("portal.actions_per_second", 3.0)
	v.SetDefault("portal.sign_method", "keyboard")
	v.SetDefault("portal.retry_attempts", 2)
	v.SetDefault("batch.pause_between_groups", 500*time.Millisecond)
	v.SetDefault("batch.confirmation_policy", ConfirmationLenient)
	v.SetDefault("batch.manual_review", false)
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.database_path", "portal.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

var (
	periodRe = regexp.MustCompile(`^(0[1-9]|1[0-2])/\d{4}$`)
	cnpjRe   = regexp.MustCompile(`^\d{2}\.?\d{3}\.?\d{3}/?\d{4}-?\d{2}$`)
)

// Validate checks the fields a given command needs. Mode is one of "run",
// "serve" or "ledger".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, "store.driver must be sqlite or postgres")
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}

	switch mode {
	case "run":
		if !periodRe.MatchString(c.Filing.Period) {
			errs = append(errs, "filing.period must be MM/YYYY")
		}
		if !cnpjRe.MatchString(c.Filing.EstablishmentCNPJ) {
			errs = append(errs, "filing.establishment_cnpj is required (00.000.000/0000-00)")
		}
		if c.Filing.OperatorCNPJ != "" && !cnpjRe.MatchString(c.Filing.OperatorCNPJ) {
			errs = append(errs, "filing.operator_cnpj is malformed")
		}
		if c.Sheet.Path == "" {
			errs = append(errs, "sheet.path is required")
		}
		switch c.Portal.Driver {
		case "chrome", "http", "stub":
		default:
			errs = append(errs, "portal.driver must be chrome, http or stub")
		}
		switch c.Portal.SignMethod {
		case "keyboard", "click":
		default:
			errs = append(errs, "portal.sign_method must be keyboard or click")
		}
		switch c.Batch.ConfirmationPolicy {
		case ConfirmationLenient, ConfirmationStrict:
		default:
			errs = append(errs, "batch.confirmation_policy must be lenient or strict")
		}
		if c.Portal.ConfirmationTimeout <= 0 {
			errs = append(errs, "portal.confirmation_timeout must be > 0")
		}
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be > 0")
		}
		if c.Server.DatabasePath == "" {
			errs = append(errs, "server.database_path is required")
		}
	case "ledger":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: invalid configuration:\n  %s", strings.Join(errs, "\n  "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
