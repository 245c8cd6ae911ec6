package config

import (
	"flag"
	"fmt"
	"io/ioutil"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

// DBCredential struct
type DBCredential struct {
	Address  string `yaml:"address"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Port     string `yaml:"port"`
	Database string `yaml:"database"`
}

// GetRedisAddress prints redis credential info.
func (c *DBCredential) GetRedisAddress() string {
	return fmt.Sprintf("%v:%v", c.Address, c.Port)
}

// Configuration struct
type Configuration struct {
	LogLevel         int          `yaml:"log_level"`
	HTTPListen       string       `yaml:"http_listen"`
	RedisCredential  DBCredential `yaml:"redis"`
	SentryDSN        string       `yaml:"sentry_dsn"`
	LarkAlarmWebhook string       `yaml:"lark_alarm_webhook"`
	Wallet           Wallet       `yaml:"wallet"`
	Relay            Relay        `yaml:"relay"`
	Chains           []Chain      `yaml:"chains"`
	Execution        Execution    `yaml:"execution"`
	Decoder          Decoder      `yaml:"decoder"`
}

// Wallet holds the signing identity and the chain the wallet starts on.
type Wallet struct {
	// PrivateKey is the hex-encoded secp256k1 key of the externally-owned account.
	PrivateKey     string `yaml:"private_key"`
	DefaultChainID int64  `yaml:"default_chain_id"`
}

// Relay configures the session transport.
type Relay struct {
	// Metadata advertised to peers during session settlement.
	Name        string `yaml:"name"`
	URL         string `yaml:"url"`
	Description string `yaml:"description"`
	Icon        string `yaml:"icon"`
}

// Chain extends the built-in registry with operator-provided networks.
type Chain struct {
	ID               int64  `yaml:"id"`
	Name             string `yaml:"name"`
	RPCURL           string `yaml:"rpc_url"`
	BlockExplorerURL string `yaml:"block_explorer_url"`
	ABIEndpoint      string `yaml:"abi_endpoint"`
}

// Execution selects the wrapper strategy applied to approved transactions.
type Execution struct {
	// Strategy is one of: direct, proxy, smart_account.
	Strategy string `yaml:"strategy"`
	// Proxy contract address, required by the proxy strategy.
	ProxyAddress string `yaml:"proxy_address"`
	// Per-chain executor contract addresses, required by the proxy strategy.
	Executors map[int64]string `yaml:"executors"`
	// Smart account address, required by the smart_account strategy.
	SmartAccountAddress string `yaml:"smart_account_address"`
}

// Decoder tunes the calldata decode pipeline.
type Decoder struct {
	MaxConcurrentLookups int `yaml:"max_concurrent_lookups"`
	ABICacheTTLMinutes   int `yaml:"abi_cache_ttl_minutes"`
}

func readConfig(path string) (Configuration, error) {
	logrus.Info("Starting to load configuration file ...")
	dat, err := ioutil.ReadFile(path)
	if err != nil {
		logrus.Fatal(err)
	}
	t := Configuration{}
	err = yaml.Unmarshal(dat, &t)

	if err != nil {
		if os.IsNotExist(err) {
			logrus.Fatalf("file %s does not exist", path)
		} else {
			logrus.Fatalf("fail to decode config error: %v", err)
		}
	}
	return t, nil
}

var Global *Configuration

// Read reads configuration information from yml.
func Read() {
	configFilePath := flag.String("config-path", "internal/config/config.yml", "The path to the configuration file")
	flag.Parse()
	logrus.Infof("Loading configuration file from %s", *configFilePath)
	globalConfig, err := readConfig(*configFilePath)
	if err != nil {
		logrus.Fatal(err)
	}
	Global = &globalConfig
}
