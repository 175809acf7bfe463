package config

import "time"

// Config represents the main configuration structure
type Config struct {
	RPCURL                    string          `json:"rpcUrl"`
	LogLevel                  string          `json:"logLevel"`
	GroupByNamespace          bool            `json:"groupByNamespace"`
	SimplifyResponse          bool            `json:"simplifyResponse"`
	Logging                   bool            `json:"logging"`
	ClearMemoryAfterExecution bool            `json:"clearMemoryAfterExecution"`
	Etherscan                 EtherscanConfig `json:"etherscan"`
}

// EtherscanConfig configures the remote ABI lookup service
type EtherscanConfig struct {
	APIKey    string `json:"apiKey"`
	DelayTime int    `json:"delayTime"` // ms - minimum delay between consecutive ABI fetches
}

// Default values
const (
	DefaultLogLevel  = "info"
	DefaultDelayTime = 300 // ms
)

// GetDelayDuration returns the fetch throttle delay as time.Duration
func (c *EtherscanConfig) GetDelayDuration() time.Duration {
	return time.Duration(c.DelayTime) * time.Millisecond
}

// Error reports missing or invalid configuration discovered at the point of
// use, such as a missing RPC endpoint or an ABI fetch attempted without a
// credential.
type Error struct {
	Reason string
}

// Error implements the error interface
func (e *Error) Error() string {
	return "config: " + e.Reason
}
