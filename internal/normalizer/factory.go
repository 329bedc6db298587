package normalizer

import (
	"fmt"
	"strconv"

	"github.com/GabrielNunesIT/go-libs/logger"

	"github.com/GabrielNunesIT/protocol-hub/internal/config"
)

// Build creates a registry from the configured normalizer list. Rule files
// are read and compiled here, so any RuleCompileError surfaces before a
// driver starts.
func Build(cfgs []config.NormalizerConfig, log logger.ILogger) (*Registry, error) {
	reg := NewRegistry(log)
	for i, cfg := range cfgs {
		n, err := build(cfg)
		if err != nil {
			return nil, fmt.Errorf("normalizers[%d] (%s): %w", i, cfg.Type, err)
		}
		reg.Add(n)
	}
	return reg, nil
}

func build(cfg config.NormalizerConfig) (Normalizer, error) {
	switch cfg.Type {
	case config.NormalizerTrap:
		var opts []RuleOption
		if cfg.TrapOIDKey != "" {
			opts = append(opts, WithTrapOIDKey(cfg.TrapOIDKey))
		}
		return NewTrapNormalizer(cfg.Name, cfg.PluginID, opts...), nil

	case config.NormalizerRules:
		rf, err := LoadRuleFile(cfg.RulesFile)
		if err != nil {
			return nil, err
		}
		var opts []RuleOption
		if cfg.Mode != "" {
			mode, err := ParseMode(cfg.Mode)
			if err != nil {
				return nil, &RuleCompileError{Rule: cfg.Name, Field: "mode", Err: err}
			}
			opts = append(opts, WithMode(mode))
		}
		if cfg.TrapOIDKey != "" {
			opts = append(opts, WithTrapOIDKey(cfg.TrapOIDKey))
		}
		return NewRuleNormalizerFromFile(cfg.Name, cfg.PluginID, rf, opts...)

	case config.NormalizerParser:
		return NewParserNormalizer(cfg)

	case config.NormalizerLabels:
		return NewLabelsNormalizer(cfg), nil

	case config.NormalizerSyslogCPU:
		return NewSyslogCPUNormalizer(cfg.Name, cfg.PluginID), nil
	}
	return nil, fmt.Errorf("unknown normalizer type %q", cfg.Type)
}

func itoa(i int) string { return strconv.Itoa(i) }
