package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// flags mirrors the teacher's package-level Flags struct (cmd/tusd/cli):
// one flat bag of settings populated by cobra flags, then topped up by an
// optional YAML config file for whatever the user didn't pass on the
// command line.
type flags struct {
	HTTPHost string `yaml:"http_host"`
	HTTPPort string `yaml:"http_port"`
	HTTPSock string `yaml:"http_sock"`
	Basepath string `yaml:"base_path"`

	MaxSize           int64         `yaml:"max_size"`
	NetworkTimeout    time.Duration `yaml:"network_timeout"`
	IdleRecordTimeout time.Duration `yaml:"idle_record_timeout"`
	TransferInactivityTimeout time.Duration `yaml:"transfer_inactivity_timeout"`
	BufferBytes       int64         `yaml:"buffer_bytes"`

	StoragePath string `yaml:"storage_path"`

	EnableH2C     bool   `yaml:"enable_h2c"`
	TLSCertFile   string `yaml:"tls_cert_file"`
	TLSKeyFile    string `yaml:"tls_key_file"`
	TLSMode       string `yaml:"tls_mode"`

	ExposeMetrics bool `yaml:"expose_metrics"`
	MetricsPath   string `yaml:"metrics_path"`

	FileHooksDir      string `yaml:"file_hooks_dir"`
	HTTPHooksEndpoint string `yaml:"http_hooks_endpoint"`
	HTTPHooksRetry    int    `yaml:"http_hooks_retry"`
	HTTPHooksBackoff  time.Duration `yaml:"http_hooks_backoff"`
	GRPCHooksEndpoint string `yaml:"grpc_hooks_endpoint"`
	GRPCHooksSecure   bool   `yaml:"grpc_hooks_secure"`
	SQSHooksQueueURL  string `yaml:"sqs_hooks_queue_url"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	ConfigFile string `yaml:"-"`
}

// Flags holds the single, process-wide configuration, as in the teacher's
// cli.Flags: defaults, then cobra flag parsing, then loadConfigFile (if
// -config was given) filling in whatever the user didn't set explicitly on
// the command line.
var Flags = defaultFlags()

func defaultFlags() flags {
	return flags{
		HTTPHost:          "0.0.0.0",
		HTTPPort:          "8080",
		Basepath:          "/",
		MaxSize:           0,
		NetworkTimeout:    30 * time.Second,
		IdleRecordTimeout: 24 * time.Hour,
		TransferInactivityTimeout: 5 * time.Minute,
		BufferBytes:       4 << 20,
		StoragePath:       "./data",
		TLSMode:           "tls13",
		MetricsPath:       "/metrics",
		ShutdownTimeout:   10 * time.Second,
	}
}

// loadConfigFile merges a YAML config file into Flags. It is called from
// PersistentPreRunE, which cobra runs after pflag has already applied any
// command-line flags to Flags. yaml.Unmarshal below overwrites the whole
// struct for every field the file sets, so any flag the user set explicitly
// is snapshotted first and restored after, keeping the documented
// defaults-then-file-then-flags precedence instead of letting the file
// clobber an explicit flag.
func loadConfigFile(set *pflag.FlagSet, path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("rufhd: read config file: %w", err)
	}

	restore := snapshotExplicitFlags(set)

	if err := yaml.Unmarshal(data, &Flags); err != nil {
		return fmt.Errorf("rufhd: parse config file: %w", err)
	}

	restore()
	return nil
}

// snapshotExplicitFlags captures the current value of every flag the user
// set explicitly on the command line, returning a function that writes
// those captured values back onto Flags.
func snapshotExplicitFlags(set *pflag.FlagSet) func() {
	var restores []func()

	keepString := func(name string, field *string) {
		if set.Changed(name) {
			v := *field
			restores = append(restores, func() { *field = v })
		}
	}
	keepInt64 := func(name string, field *int64) {
		if set.Changed(name) {
			v := *field
			restores = append(restores, func() { *field = v })
		}
	}
	keepInt := func(name string, field *int) {
		if set.Changed(name) {
			v := *field
			restores = append(restores, func() { *field = v })
		}
	}
	keepBool := func(name string, field *bool) {
		if set.Changed(name) {
			v := *field
			restores = append(restores, func() { *field = v })
		}
	}
	keepDuration := func(name string, field *time.Duration) {
		if set.Changed(name) {
			v := *field
			restores = append(restores, func() { *field = v })
		}
	}

	keepString("host", &Flags.HTTPHost)
	keepString("port", &Flags.HTTPPort)
	keepString("unix-sock", &Flags.HTTPSock)
	keepString("base-path", &Flags.Basepath)
	keepInt64("max-size", &Flags.MaxSize)
	keepDuration("network-timeout", &Flags.NetworkTimeout)
	keepDuration("idle-record-timeout", &Flags.IdleRecordTimeout)
	keepDuration("transfer-inactivity-timeout", &Flags.TransferInactivityTimeout)
	keepInt64("buffer-bytes", &Flags.BufferBytes)
	keepString("storage-path", &Flags.StoragePath)
	keepBool("enable-h2c", &Flags.EnableH2C)
	keepString("tls-cert-file", &Flags.TLSCertFile)
	keepString("tls-key-file", &Flags.TLSKeyFile)
	keepString("tls-mode", &Flags.TLSMode)
	keepBool("expose-metrics", &Flags.ExposeMetrics)
	keepString("metrics-path", &Flags.MetricsPath)
	keepString("file-hooks-dir", &Flags.FileHooksDir)
	keepString("http-hooks-endpoint", &Flags.HTTPHooksEndpoint)
	keepInt("http-hooks-retry", &Flags.HTTPHooksRetry)
	keepDuration("http-hooks-backoff", &Flags.HTTPHooksBackoff)
	keepString("grpc-hooks-endpoint", &Flags.GRPCHooksEndpoint)
	keepBool("grpc-hooks-secure", &Flags.GRPCHooksSecure)
	keepString("sqs-hooks-queue-url", &Flags.SQSHooksQueueURL)
	keepDuration("shutdown-timeout", &Flags.ShutdownTimeout)

	return func() {
		for _, r := range restores {
			r()
		}
	}
}
