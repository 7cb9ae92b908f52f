package cmd

import (
	"os/signal"
	"syscall"

	"github.com/oriys/faasrt/internal/domain"
	"github.com/oriys/faasrt/internal/host"
	"github.com/spf13/cobra"
)

var eventCmd = &cobra.Command{
	Use:   "event",
	Short: "Run the platform event wrapper",
	Long: `以托管平台事件格式运行。POST /invoke 接收 {"body": "<调用请求 JSON>"}。
--mode aws 返回调用响应，--mode vefaas 把调用响应再包装一层 HTTP 响应。
未指定宿主类型时按 aws 处理。`,
	Args: cobra.NoArgs,
	RunE: runEvent,
}

func init() {
	rootCmd.AddCommand(eventCmd)
}

func runEvent(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	env, err := bootstrap(ctx, domain.RunTypeAWS, nil)
	if err != nil {
		return err
	}
	router := host.NewEventRouter(env.app, host.EventOptions{
		RunType:     env.app.RunType(),
		ServiceName: env.serviceName(),
	})
	return listen(ctx, env, env.cfg.Event.Addr(), router)
}
