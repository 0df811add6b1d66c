package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// fileConfig mirrors ServiceConfig with pointer fields so a config file can
// override any subset of settings and leave the rest untouched.
type fileConfig struct {
	ModelPath            *string  `json:"model_path" yaml:"model_path" toml:"model_path"`
	ServedModelName      *string  `json:"served_model_name" yaml:"served_model_name" toml:"served_model_name"`
	Port                 *int     `json:"port" yaml:"port" toml:"port"`
	VisibleDevices       *string  `json:"visible_devices" yaml:"visible_devices" toml:"visible_devices"`
	TensorParallelSize   *int     `json:"tensor_parallel_size" yaml:"tensor_parallel_size" toml:"tensor_parallel_size"`
	DType                *string  `json:"dtype" yaml:"dtype" toml:"dtype"`
	MaxNumBatchedTokens  *int     `json:"max_num_batched_tokens" yaml:"max_num_batched_tokens" toml:"max_num_batched_tokens"`
	MaxNumSeqs           *int     `json:"max_num_seqs" yaml:"max_num_seqs" toml:"max_num_seqs"`
	GPUMemoryUtilization *float64 `json:"gpu_memory_utilization" yaml:"gpu_memory_utilization" toml:"gpu_memory_utilization"`
	MaxModelLen          *int     `json:"max_model_len" yaml:"max_model_len" toml:"max_model_len"`
	LogDir               *string  `json:"log_dir" yaml:"log_dir" toml:"log_dir"`
}

// LoadFile reads a configuration file based on its extension and applies it
// on top of base. Supports: .yaml/.yml, .json, .toml
func LoadFile(base ServiceConfig, path string) (ServiceConfig, error) {
	if path == "" {
		return base, &Error{Setting: "config file", Err: fmt.Errorf("empty path")}
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return base, &Error{Setting: "config file", Value: path, Err: err}
	}
	var fc fileConfig
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &fc)
	case ".json":
		err = json.Unmarshal(b, &fc)
	case ".toml":
		err = toml.Unmarshal(b, &fc)
	default:
		err = fmt.Errorf("unsupported config extension: %s", ext)
	}
	if err != nil {
		return base, &Error{Setting: "config file", Value: path, Err: err}
	}
	return fc.apply(base), nil
}

func (fc fileConfig) apply(c ServiceConfig) ServiceConfig {
	if fc.ModelPath != nil {
		c.ModelPath = *fc.ModelPath
	}
	if fc.ServedModelName != nil {
		c.ServedModelName = *fc.ServedModelName
	}
	if fc.Port != nil {
		c.Port = *fc.Port
	}
	if fc.VisibleDevices != nil {
		c.VisibleDevices = *fc.VisibleDevices
	}
	if fc.TensorParallelSize != nil {
		c.TensorParallelSize = *fc.TensorParallelSize
	}
	if fc.DType != nil {
		c.DType = *fc.DType
	}
	if fc.MaxNumBatchedTokens != nil {
		c.MaxNumBatchedTokens = *fc.MaxNumBatchedTokens
	}
	if fc.MaxNumSeqs != nil {
		c.MaxNumSeqs = *fc.MaxNumSeqs
	}
	if fc.GPUMemoryUtilization != nil {
		c.GPUMemoryUtilization = *fc.GPUMemoryUtilization
	}
	if fc.MaxModelLen != nil {
		c.MaxModelLen = *fc.MaxModelLen
	}
	if fc.LogDir != nil {
		c.LogDir = *fc.LogDir
	}
	return c
}
