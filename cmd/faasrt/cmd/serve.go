package cmd

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/oriys/faasrt/internal/host"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the local HTTP proxy",
	Long: `启动本地开发代理。POST 请求按路径分发到函数，GET /manifest.json 返回 manifest。
代理模式下每次启动都是冷启动，适合本地调试。`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	env, err := bootstrap(ctx, "", nil)
	if err != nil {
		return err
	}
	router := host.NewProxyRouter(env.app, host.ProxyOptions{
		ServiceName: env.serviceName(),
		Gatherer:    env.gatherer,
	})
	return listen(ctx, env, env.cfg.Server.Addr(), router)
}

// listen 启动 HTTP 服务器，收到退出信号后在 ShutdownTimeout 内优雅关闭。
func listen(ctx context.Context, env *runtimeEnv, addr string, handler http.Handler) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second, // 函数执行可能较长
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		env.sys.WithField("addr", addr).Info("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			env.close(context.Background())
			return err
		}
	case <-ctx.Done():
	}

	env.sys.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), env.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		env.sys.WithError(err).Error("Server shutdown error")
	}
	env.close(shutdownCtx)
	env.sys.Info("Server stopped")
	return nil
}
