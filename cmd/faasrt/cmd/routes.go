package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/oriys/faasrt/internal/route"
	"github.com/spf13/cobra"
)

var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "Print the route table",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := commandContext(cmd)
		env, err := bootstrap(ctx, "", io.Discard)
		if err != nil {
			return err
		}
		defer env.close(ctx)
		return printRoutes(cmd.OutOrStdout(), env.app.Routes())
	},
}

func init() {
	rootCmd.AddCommand(routesCmd)
}

// printRoutes 以表格形式输出路由、实现文件与单元名称。
func printRoutes(w io.Writer, entries []*route.Entry) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ROUTE\tFILE\tUNIT")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Route, e.File, e.Unit)
	}
	return tw.Flush()
}
