// Package config loads harness settings through viper.
//
// Values come from defaults, then pinot-tc.yaml, then PINOT_TC_* environment
// variables. The client endpoints are also read from PINOT_CONTROLLER_URL and
// PINOT_BROKER_URL.
package config
