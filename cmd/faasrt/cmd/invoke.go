package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/oriys/faasrt/internal/domain"
	"github.com/spf13/cobra"
)

var invokeCmd = &cobra.Command{
	Use:   "invoke <path>",
	Short: "Invoke a function once",
	Long: `在当前进程内调用一次函数并输出调用响应，每次调用都是冷启动。

使用示例:
  # 使用 JSON 参数调用
  faasrt invoke /hello --data '{"name": "World"}'

  # 从标准输入读取参数
  echo '{"name": "World"}' | faasrt invoke /hello`,
	Args: cobra.ExactArgs(1),
	RunE: runInvoke,
}

var invokeData string // JSON 格式的函数输入

func init() {
	rootCmd.AddCommand(invokeCmd)

	invokeCmd.Flags().StringVarP(&invokeData, "data", "d", "", "JSON input")
}

func runInvoke(cmd *cobra.Command, args []string) error {
	var input json.RawMessage
	switch {
	case invokeData != "":
		input = json.RawMessage(invokeData)
	default:
		stat, _ := os.Stdin.Stat()
		if stat != nil && (stat.Mode()&os.ModeCharDevice) == 0 {
			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("failed to read stdin: %w", err)
			}
			input = data
		}
	}
	if len(input) > 0 && !json.Valid(input) {
		return fmt.Errorf("invalid JSON input")
	}

	ctx := commandContext(cmd)
	env, err := bootstrap(ctx, "", cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer env.close(ctx)

	req := domain.InvokeRequest{
		Version:  1,
		Protocol: "CLI",
		Method:   "POST",
		URL:      args[0],
		Headers:  map[string]string{env.app.RequestIDHeader(): uuid.NewString()},
	}
	if len(input) > 0 {
		body, err := json.Marshal(map[string]json.RawMessage{"input": input})
		if err != nil {
			return err
		}
		s := string(body)
		req.Body = &s
	}

	resp := env.app.EntryHandler(ctx, req)
	out, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
