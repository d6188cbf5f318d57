package observability

import (
	"slices"
	"strings"

	"github.com/smallbiznis/aerocert/internal/config"
)

const defaultServiceName = "aerocert"

var devEnvironments = []string{"dev", "development", "local", "test"}

// Config is the normalized observability view of the application config.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

func LoadConfig(cfg config.Config) Config {
	obs := cfg.Observability

	serviceName := strings.TrimSpace(cfg.AppName)
	if serviceName == "" {
		serviceName = defaultServiceName
	}
	protocol := obs.OTLPProtocol
	if protocol != "http" {
		protocol = "grpc"
	}
	ratio := obs.SamplingRatio
	if ratio < 0 || ratio > 1 {
		ratio = 1
	}
	level := obs.LogLevel
	if level == "" {
		level = "info"
	}

	return Config{
		ServiceName:          serviceName,
		Environment:          strings.TrimSpace(cfg.Environment),
		Version:              strings.TrimSpace(cfg.AppVersion),
		LogLevel:             level,
		LogFormat:            obs.LogFormat,
		OtelEnabled:          obs.OtelEnabled && strings.TrimSpace(cfg.OTLPEndpoint) != "",
		OtelExporterEndpoint: strings.TrimSpace(cfg.OTLPEndpoint),
		OtelExporterProtocol: protocol,
		OtelSamplingRatio:    ratio,
	}
}

// Debug turns on console-friendly output and stack traces.
func (c Config) Debug() bool {
	if c.LogLevel == "debug" {
		return true
	}
	return slices.Contains(devEnvironments, strings.ToLower(c.Environment))
}
