// Package cmd 包含 faasrt 命令行的所有命令实现，使用 cobra 框架构建。
package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// 全局命令行标志变量
var (
	cfgFile  string // 配置文件路径
	rootDir  string // 项目根目录
	runMode  string // 宿主类型
	logLevel string // 日志级别
)

// rootCmd 是 CLI 的根命令
var rootCmd = &cobra.Command{
	Use:   "faasrt",
	Short: "faasrt - manifest driven function runtime",
	Long: `faasrt 按项目根目录下的 manifest.json 把请求路由到函数实现单元。

使用示例:
  # 启动本地开发代理
  faasrt serve --root ./project

  # 以 aws 事件格式运行
  faasrt event --mode aws

  # 单次调用
  faasrt invoke /hello --data '{"name": "World"}'

  # 查看路由表
  faasrt routes`,
	SilenceUsage: true,
}

// Execute 执行根命令，由 main 包调用。
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "配置文件路径（YAML）")
	rootCmd.PersistentFlags().StringVar(&rootDir, "root", "", "项目根目录")
	rootCmd.PersistentFlags().StringVar(&runMode, "mode", "", "宿主类型（proxy、aws、vefaas）")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "日志级别")

	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("root", rootCmd.PersistentFlags().Lookup("root"))
	viper.BindPFlag("mode", rootCmd.PersistentFlags().Lookup("mode"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
}

// initConfig 初始化配置来源，优先级：命令行标志 > 环境变量 > 配置文件。
// 环境变量格式：FAASRT_<KEY>，如 FAASRT_MODE、FAASRT_CONFIG。
func initConfig() {
	viper.SetEnvPrefix("FAASRT")
	viper.AutomaticEnv()
}

// commandContext 返回命令的上下文，未通过 ExecuteContext 执行时为 Background。
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
