package config

import "github.com/go-viper/mapstructure/v2"

// durationDecodeHook lets viper populate config.Duration fields from
// "90s"-style TOML/env strings via Duration's encoding.TextUnmarshaler.
var durationDecodeHook = mapstructure.TextUnmarshallerHookFunc()
