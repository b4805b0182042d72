// Package config loads flowkit configuration with Viper and godotenv.
//
// LoadConfig reads <service>.yml or flowkit.yml from the working directory
// or ./config (FLOWKIT_CONFIG names a file explicitly), loads a matching .env
// file, applies environment overrides (FLOWKIT_RETRY_MAX_RETRIES overrides
// retry.max_retries) and unmarshals into any struct with mapstructure tags. FlowConfig is the
// layout for services built on flowkit; its converters produce the typed
// configs the primitives and engines take:
//
//	cfg, err := config.LoadFlowConfig("orders")
//	retry, err := resilience.NewRetry(call, cfg.RetryConfig())
//	sink, err := cfg.StrategySink(redisClient)
//	opts := cfg.AdaptiveOptions()
//	opts.Sink = sink
package config
