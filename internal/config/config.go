package config

import (
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds the overall application configuration.
type Config struct {
	DatabaseURL string `envconfig:"DATABASE_URL"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	ServerConfig     ServerConfig
	StoreKeys        StoreKeys
	DispatcherConfig DispatcherConfig
	ControlPlane     ControlPlaneConfig
	Instance         InstanceConfig
}

// ServerConfig holds SMPP server specific configuration.
type ServerConfig struct {
	Addr               string        `envconfig:"SERVER_ADDR"                default:"0.0.0.0:2775"`
	BindTimeout        time.Duration `envconfig:"SERVER_BIND_TIMEOUT"        default:"5s"`
	ReadTimeout        time.Duration `envconfig:"SERVER_READ_TIMEOUT"        default:"60s"`
	TransactionTimeout time.Duration `envconfig:"SERVER_TRANSACTION_TIMEOUT" default:"5s"`
}

// StoreKeys names the hashes and lists used on the external store.
type StoreKeys struct {
	ServiceProvidersHash string `envconfig:"STORE_SERVICE_PROVIDERS_HASH" default:"service_providers"`
	ConfigurationHash    string `envconfig:"STORE_CONFIGURATION_HASH"     default:"configurations"`
	ServerKey            string `envconfig:"STORE_SERVER_KEY"             default:"smpp_server"`
	GeneralSettingsHash  string `envconfig:"STORE_GENERAL_SETTINGS_HASH"  default:"general_settings"`
	GeneralSettingsKey   string `envconfig:"STORE_GENERAL_SETTINGS_KEY"   default:"smpp_http"`
	DeliverQueue         string `envconfig:"STORE_DELIVER_QUEUE"          default:"smpp_dlr"`
	PreMessageList       string `envconfig:"STORE_PRE_MESSAGE_LIST"       default:"preMessage"`
	MessagePartsHash     string `envconfig:"STORE_MESSAGE_PARTS_HASH"     default:"smpp_message_parts"`
	CdrList              string `envconfig:"STORE_CDR_LIST"               default:"cdr_detail"`
	CdrFinalizeList      string `envconfig:"STORE_CDR_FINALIZE_LIST"      default:"cdr_finalize"`
}

// DispatcherConfig holds deliver_sm dispatcher tuning.
type DispatcherConfig struct {
	Interval  time.Duration `envconfig:"DISPATCHER_INTERVAL"   default:"1s"`
	Workers   int           `envconfig:"DISPATCHER_WORKERS"    default:"4"`
	BatchSize int           `envconfig:"DISPATCHER_BATCH_SIZE" default:"100"`
}

// ControlPlaneConfig holds the operator UI websocket settings.
type ControlPlaneConfig struct {
	Enabled       bool          `envconfig:"WS_ENABLED"        default:"false"`
	URL           string        `envconfig:"WS_URL"            default:""`
	HeaderName    string        `envconfig:"WS_HEADER_NAME"    default:"Authorization"`
	HeaderValue   string        `envconfig:"WS_HEADER_VALUE"   default:""`
	RetryInterval time.Duration `envconfig:"WS_RETRY_INTERVAL" default:"10s"`
	NotifyDelay   time.Duration `envconfig:"WS_NOTIFY_DELAY"   default:"500ms"`
}

// InstanceConfig identifies this process in the service registry.
type InstanceConfig struct {
	Name          string `envconfig:"INSTANCE_NAME"           default:"smpp-server"`
	IP            string `envconfig:"INSTANCE_IP"             default:"127.0.0.1"`
	Port          string `envconfig:"INSTANCE_PORT"           default:"2775"`
	Protocol      string `envconfig:"INSTANCE_PROTOCOL"       default:"SMPP"`
	Scheme        string `envconfig:"INSTANCE_SCHEME"         default:"tcp"`
	APIKey        string `envconfig:"INSTANCE_API_KEY"        default:""`
	InitialStatus string `envconfig:"INSTANCE_INITIAL_STATUS" default:"STARTED"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config

	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file found, skipping: %v", err)
	}

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
