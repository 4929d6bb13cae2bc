package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/turtacn/custody/internal/config"
	"github.com/turtacn/custody/internal/infrastructure/monitoring"
)

type rootOptions struct {
	configFile  string
	metricsFile string
	encoding    string

	viper   *viper.Viper
	runtime *runtime
}

// newRootCmd builds the base command when the `custody` binary is called without any subcommands.
// Every subcommand shares one runtime wired in PersistentPreRunE. The returned release function
// frees it even when the command failed; PersistentPostRunE releases it on success.
// newRootCmd 构建在没有任何子命令的情况下调用 `custody` 二进制文件时的基本命令。
// 所有子命令共享在 PersistentPreRunE 中装配的运行时，返回的 release 函数负责释放。
func newRootCmd() (*cobra.Command, func()) {
	o := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "custody",
		Short: "A CLI tool for key custody and envelope cryptography.",
		Long: `custody generates key pairs and symmetric keys, stores them under caller-chosen tags
and runs encryption, sealing, signing and digests with the stored keys.

Keys live in the configured store backend. With the default memory backend they only
exist for the duration of one command, so use "demo" or a persistent backend.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return o.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return o.teardown(cmd.Context())
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&o.configFile, "config", "", "config file (default is ./custody.yaml or /etc/custody/custody.yaml)")
	flags.String("backend", "", "key store backend: memory, redis, sql or vault")
	flags.String("log-level", "", "log level: debug, info, warn or error")
	flags.StringVar(&o.metricsFile, "metrics-file", "", "write Prometheus metrics to this file after the command")
	flags.StringVar(&o.encoding, "encoding", "base64", "binary encoding for input and output: base64 or hex")

	cmd.AddCommand(
		newKeygenCmd(o),
		newResolveCmd(o),
		newDeleteCmd(o),
		newEncryptCmd(o),
		newDecryptCmd(o),
		newSealCmd(o),
		newOpenCmd(o),
		newSignCmd(o),
		newVerifyCmd(o),
		newDigestCmd(o),
		newTokenCmd(o),
		newDemoCmd(o),
	)
	release := func() { _ = o.teardown(context.Background()) }
	return cmd, release
}

func (o *rootOptions) setup(cmd *cobra.Command) error {
	if cmd.Name() == "help" || (cmd.HasParent() && cmd.Parent().Name() == "completion") {
		return nil
	}
	if _, err := codecFor(o.encoding); err != nil {
		return err
	}

	o.viper = config.NewViper(o.configFile)
	if err := o.viper.BindPFlag("store.backend", cmd.Flags().Lookup("backend")); err != nil {
		return err
	}
	if err := o.viper.BindPFlag("log.level", cmd.Flags().Lookup("log-level")); err != nil {
		return err
	}
	cfg, err := config.LoadConfig(o.viper)
	if err != nil {
		return err
	}

	zl, err := monitoring.NewZapLogger(&cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	if o.viper.ConfigFileUsed() != "" {
		config.Watch(o.viper, zl, func(c *config.Config) { zl.SetLevel(c.Log.Level) })
	}

	rt, err := newRuntime(cmd.Context(), cfg, zl)
	if err != nil {
		_ = zl.Sync()
		return err
	}
	o.runtime = rt
	return nil
}

func (o *rootOptions) teardown(ctx context.Context) error {
	rt := o.runtime
	if rt == nil {
		return nil
	}
	o.runtime = nil

	var err error
	if o.metricsFile != "" && rt.registry != nil {
		err = prometheus.WriteToTextfile(o.metricsFile, rt.registry)
	}
	rt.close(ctx)
	_ = rt.logger.Sync()
	return err
}

// Execute is the main entry point for the CLI application.
// It parses the command-line arguments and executes the appropriate command.
// If an error occurs, it prints the error and exits.
// Execute 是 CLI 应用程序的主入口点。
// 它解析命令行参数并执行相应的命令。如果发生错误，它会打印错误并退出。
func Execute() {
	cmd, release := newRootCmd()
	err := cmd.ExecuteContext(context.Background())
	release()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
