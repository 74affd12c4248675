package main

import (
	"errors"
	"io/fs"

	"github.com/IMBotPlatform/wechat-opensdk/pkg/kernel"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// globalOptions 为所有子命令共享的参数。
type globalOptions struct {
	envFile  string
	logLevel string
	pretty   bool

	logger zerolog.Logger
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{logger: zerolog.Nop()}

	root := &cobra.Command{
		Use:           "wechat-webhook",
		Short:         "WeChat / WeCom webhook server and crypto tools",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// .env 不存在时忽略，其余错误直接返回。
			if opts.envFile != "" {
				if err := godotenv.Load(opts.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
					return err
				}
			}
			opts.logger = kernel.NewLogger(opts.logLevel, opts.pretty, cmd.ErrOrStderr())
			return nil
		},
	}

	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before reading configuration")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&opts.pretty, "pretty", false, "human readable console logs")

	root.AddCommand(newServeCmd(opts), newEncryptCmd(), newDecryptCmd())
	return root
}
