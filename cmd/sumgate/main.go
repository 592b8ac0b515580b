package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/jacktea/sumgate/pkg/logging"
	"github.com/jacktea/sumgate/pkg/storage"
)

// version is overridden at build time with -ldflags.
var version = "dev"

type app struct {
	ctx     context.Context
	cancel  context.CancelFunc
	logger  logr.Logger
	cleanup []func()
}

func (a *app) setup() error {
	if a.ctx != nil {
		return nil
	}
	logger, err := logging.New(logging.Config{
		Verbosity: viper.GetInt("log.verbosity"),
		Format:    viper.GetString("log.format"),
	})
	if err != nil {
		return err
	}
	a.ctx, a.cancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	a.logger = logger
	return nil
}

func (a *app) onClose(fn func()) {
	a.cleanup = append(a.cleanup, fn)
}

func (a *app) close() {
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		a.cleanup[i]()
	}
	if a.cancel != nil {
		a.cancel()
	}
}

var (
	cfgFile     string
	logCfg      logging.Config
	application = &app{}
	rootCmd     = &cobra.Command{
		Use:           "sumgate",
		Short:         "Checksum-validating storage gateway",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return application.setup()
		},
	}
)

func init() {
	cobra.OnInitialize(initConfig)
	initRootFlags()
	initCommands()
}

func main() {
	err := rootCmd.Execute()
	application.close()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("sumgate")
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "sumgate"))
		}
	}
	viper.SetEnvPrefix("SUMGATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if !errors.As(err, &nf) {
			fmt.Fprintf(os.Stderr, "read config: %v\n", err)
		}
	}
}

func bindConfig(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(err)
	}
}

// bindEnv lets key also be read from legacy environment variables. The
// prefixed name stays first so it wins when both are set.
func bindEnv(key string, legacy ...string) {
	names := append([]string{"SUMGATE_" + strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(key))}, legacy...)
	if err := viper.BindEnv(append([]string{key}, names...)...); err != nil {
		panic(err)
	}
}

func initRootFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (TOML or YAML)")
	logging.AddFlags(flags, &logCfg)

	flags.String("storage-provider", storage.ProviderMinio, "storage provider: minio|s3|gcs|oss|cos|local|bolt|memory")
	flags.String("storage-endpoint", "http://minio:9000", "object storage endpoint")
	flags.String("storage-region", "us-east-1", "storage region")
	flags.String("storage-access-key", "", "storage access key")
	flags.String("storage-secret-key", "", "storage secret key")
	flags.String("storage-session-token", "", "storage session token (S3)")
	flags.String("storage-root", ".sumgate/objects", "directory (local) or database file (bolt)")
	flags.StringSlice("storage-buckets", nil, "buckets to create at startup (local, bolt)")
	flags.Duration("storage-timeout", 0, "bound on each storage write (0 disables)")

	bindConfig("log.verbosity", flags.Lookup("v"))
	bindConfig("log.format", flags.Lookup("log-format"))

	bindConfig("storage_provider", flags.Lookup("storage-provider"))
	bindConfig("storage_endpoint", flags.Lookup("storage-endpoint"))
	bindConfig("storage_region", flags.Lookup("storage-region"))
	bindConfig("storage_access_key", flags.Lookup("storage-access-key"))
	bindConfig("storage_secret_key", flags.Lookup("storage-secret-key"))
	bindConfig("storage_session_token", flags.Lookup("storage-session-token"))
	bindConfig("storage_root", flags.Lookup("storage-root"))
	bindConfig("storage_buckets", flags.Lookup("storage-buckets"))
	bindConfig("storage_timeout", flags.Lookup("storage-timeout"))

	bindEnv("storage_access_key", "MINIO_ACCESS_KEY")
	bindEnv("storage_secret_key", "MINIO_SECRET_KEY")
}

func initCommands() {
	rootCmd.AddCommand(
		newServeCmd(),
		newValidateCmd(),
		newChecksumCmd(),
		newServeS3Cmd(),
	)
}

func storageOptionsFromConfig() storage.Options {
	return storage.Options{
		Provider:     viper.GetString("storage_provider"),
		Endpoint:     viper.GetString("storage_endpoint"),
		Region:       viper.GetString("storage_region"),
		AccessKey:    viper.GetString("storage_access_key"),
		SecretKey:    viper.GetString("storage_secret_key"),
		SessionToken: viper.GetString("storage_session_token"),
		Root:         viper.GetString("storage_root"),
		Buckets:      viper.GetStringSlice("storage_buckets"),
		Timeout:      viper.GetDuration("storage_timeout"),
	}
}
