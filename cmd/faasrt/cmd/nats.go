package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/oriys/faasrt/internal/host"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var natsCmd = &cobra.Command{
	Use:   "nats",
	Short: "Serve invocations from a NATS queue",
	Long: `订阅 NATS 主题，每条消息是一个调用请求 JSON，应答为调用响应 JSON。
同一队列组内的多个实例分摊消息。`,
	Args: cobra.NoArgs,
	RunE: runNATS,
}

func init() {
	rootCmd.AddCommand(natsCmd)
}

func runNATS(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	env, err := bootstrap(ctx, "", nil)
	if err != nil {
		return err
	}
	defer env.close(context.Background())

	srv, err := host.NewNATSServer(env.cfg.NATS.URL, env.app, env.sys)
	if err != nil {
		return err
	}
	defer srv.Close()

	env.sys.WithFields(logrus.Fields{
		"url":     env.cfg.NATS.URL,
		"subject": env.cfg.NATS.Subject,
	}).Info("Starting NATS host")
	return srv.Serve(ctx, env.cfg.NATS.Subject, env.cfg.NATS.Queue)
}
