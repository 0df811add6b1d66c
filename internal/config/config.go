package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Setting names accepted by Resolve. The same names are read from the
// environment by FromEnv.
const (
	KeyModelPath            = "MODEL_PATH"
	KeyServedModelName      = "SERVED_MODEL_NAME"
	KeyPort                 = "RERANK_PORT"
	KeyVisibleDevices       = "CUDA_VISIBLE_DEVICES"
	KeyTensorParallelSize   = "TENSOR_PARALLEL_SIZE"
	KeyDType                = "DTYPE"
	KeyMaxNumBatchedTokens  = "MAX_NUM_BATCHED_TOKENS"
	KeyMaxNumSeqs           = "MAX_NUM_SEQS"
	KeyGPUMemoryUtilization = "GPU_MEMORY_UTILIZATION"
	KeyMaxModelLen          = "MAX_MODEL_LEN"
	KeyLogDir               = "RERANK_LOG_DIR"
)

// ServiceConfig holds the identity and launch parameters of one reranker
// service instance. Values are fixed once resolved; derived paths are
// deterministic functions of ServedModelName and Port.
//
// TensorParallelSize is expected not to exceed the number of devices in
// VisibleDevices; this layer does not enforce that, the engine will reject
// an impossible combination itself.
type ServiceConfig struct {
	ModelPath            string  `json:"model_path" yaml:"model_path" toml:"model_path"`
	ServedModelName      string  `json:"served_model_name" yaml:"served_model_name" toml:"served_model_name"`
	Port                 int     `json:"port" yaml:"port" toml:"port"`
	VisibleDevices       string  `json:"visible_devices" yaml:"visible_devices" toml:"visible_devices"`
	TensorParallelSize   int     `json:"tensor_parallel_size" yaml:"tensor_parallel_size" toml:"tensor_parallel_size"`
	DType                string  `json:"dtype" yaml:"dtype" toml:"dtype"`
	MaxNumBatchedTokens  int     `json:"max_num_batched_tokens" yaml:"max_num_batched_tokens" toml:"max_num_batched_tokens"`
	MaxNumSeqs           int     `json:"max_num_seqs" yaml:"max_num_seqs" toml:"max_num_seqs"`
	GPUMemoryUtilization float64 `json:"gpu_memory_utilization" yaml:"gpu_memory_utilization" toml:"gpu_memory_utilization"`
	MaxModelLen          int     `json:"max_model_len" yaml:"max_model_len" toml:"max_model_len"`
	LogDir               string  `json:"log_dir" yaml:"log_dir" toml:"log_dir"`
}

// Error reports a setting that could not be applied.
type Error struct {
	Setting string
	Value   string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config: setting %s=%q: %v", e.Setting, e.Value, e.Err)
	}
	return fmt.Sprintf("config: setting %s=%q", e.Setting, e.Value)
}

func (e *Error) Unwrap() error { return e.Err }

// Default returns the documented defaults for every setting.
func Default() ServiceConfig {
	return ServiceConfig{
		ModelPath:            "/models/Qwen3-Reranker-0.6B",
		ServedModelName:      "qwen3-reranker-0.6b",
		Port:                 11438,
		VisibleDevices:       "0",
		TensorParallelSize:   1,
		DType:                "auto",
		MaxNumBatchedTokens:  8192,
		MaxNumSeqs:           256,
		GPUMemoryUtilization: 0.90,
		MaxModelLen:          4096,
		LogDir:               "logs",
	}
}

// Resolve applies named overrides on top of base. It is pure: no
// environment or filesystem access. Unknown settings and unparseable
// numeric values are rejected with *Error.
func Resolve(base ServiceConfig, overrides map[string]string) (ServiceConfig, error) {
	cfg := base
	for k, v := range overrides {
		switch k {
		case KeyModelPath:
			cfg.ModelPath = v
		case KeyServedModelName:
			cfg.ServedModelName = v
		case KeyPort:
			n, err := strconv.Atoi(v)
			if err != nil {
				return base, &Error{Setting: k, Value: v, Err: err}
			}
			if n <= 0 {
				return base, &Error{Setting: k, Value: v, Err: fmt.Errorf("port must be positive")}
			}
			cfg.Port = n
		case KeyVisibleDevices:
			cfg.VisibleDevices = v
		case KeyTensorParallelSize:
			n, err := strconv.Atoi(v)
			if err != nil {
				return base, &Error{Setting: k, Value: v, Err: err}
			}
			cfg.TensorParallelSize = n
		case KeyDType:
			cfg.DType = v
		case KeyMaxNumBatchedTokens:
			n, err := strconv.Atoi(v)
			if err != nil {
				return base, &Error{Setting: k, Value: v, Err: err}
			}
			cfg.MaxNumBatchedTokens = n
		case KeyMaxNumSeqs:
			n, err := strconv.Atoi(v)
			if err != nil {
				return base, &Error{Setting: k, Value: v, Err: err}
			}
			cfg.MaxNumSeqs = n
		case KeyGPUMemoryUtilization:
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return base, &Error{Setting: k, Value: v, Err: err}
			}
			cfg.GPUMemoryUtilization = f
		case KeyMaxModelLen:
			n, err := strconv.Atoi(v)
			if err != nil {
				return base, &Error{Setting: k, Value: v, Err: err}
			}
			cfg.MaxModelLen = n
		case KeyLogDir:
			cfg.LogDir = v
		default:
			return base, &Error{Setting: k, Value: v, Err: fmt.Errorf("unknown setting")}
		}
	}
	return cfg, nil
}

// settingKeys lists every setting FromEnv consults.
var settingKeys = []string{
	KeyModelPath, KeyServedModelName, KeyPort, KeyVisibleDevices,
	KeyTensorParallelSize, KeyDType, KeyMaxNumBatchedTokens, KeyMaxNumSeqs,
	KeyGPUMemoryUtilization, KeyMaxModelLen, KeyLogDir,
}

// FromEnv resolves base with overrides taken from the environment. Unset
// and empty variables keep the base value.
func FromEnv(base ServiceConfig) (ServiceConfig, error) {
	overrides := map[string]string{}
	for _, k := range settingKeys {
		if v := os.Getenv(k); v != "" {
			overrides[k] = v
		}
	}
	return Resolve(base, overrides)
}

// instanceName is the deterministic per-instance file stem.
func (c ServiceConfig) instanceName() string {
	name := strings.ReplaceAll(c.ServedModelName, "/", "-")
	return fmt.Sprintf("rerank_%s_%d", name, c.Port)
}

// PIDFile returns the pid file path for this instance.
func (c ServiceConfig) PIDFile() string {
	return filepath.Join(c.LogDir, c.instanceName()+".pid")
}

// LogFile returns the log file path for this instance.
func (c ServiceConfig) LogFile() string {
	return filepath.Join(c.LogDir, c.instanceName()+".log")
}

// BaseURL returns the OpenAI-compatible API root of the service.
func (c ServiceConfig) BaseURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d/v1", c.Port)
}
