package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/SoftInstigate/restheart-sub016/internal/app"
	"github.com/SoftInstigate/restheart-sub016/internal/handlers"
	"github.com/SoftInstigate/restheart-sub016/pkg/plugin"
)

func newPluginsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "plugins",
		Short: "按当前配置加载插件并列出结果与排除原因",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			reg, err := app.New(cfg, "").Bootstrap(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = reg.Close(context.WithoutCancel(ctx)) }()
			return printRegistry(cmd.OutOrStdout(), reg)
		},
	}
}

func printRegistry(out io.Writer, reg *plugin.Registry) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KIND\tNAME\tPRIORITY\tDETAIL")
	for _, kind := range plugin.Kinds() {
		for _, rec := range reg.All(kind) {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", kind, rec.Name, rec.Priority(), detailOf(rec))
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}

	diags := reg.Diagnostics()
	if len(diags) == 0 {
		return nil
	}
	fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "EXCLUDED\tKIND\tCODE\tREASON")
	for _, d := range diags {
		fmt.Fprintf(w, "%s\t%s\t%s\t%v\n", d.Name, d.Kind, d.Code(), d.Err)
	}
	return w.Flush()
}

func detailOf(rec *plugin.Record) string {
	switch rec.Kind() {
	case plugin.KindService:
		return handlers.Route(rec)
	case plugin.KindInterceptor:
		return rec.Descriptor.Point.String()
	case plugin.KindInitializer:
		return string(rec.Descriptor.InitPoint)
	}
	var deps []string
	for _, ip := range rec.Descriptor.Injections {
		deps = append(deps, ip.Name)
	}
	return strings.Join(deps, ",")
}
