package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"notice-engine/internal/fixtures"
	"notice-engine/internal/messages"
	"notice-engine/internal/notice"
	"notice-engine/internal/render"
)

type renderFlags struct {
	fixtures []string
	campaign string
	language string
	country  string
	project  string
	device   string
	bucket   int
	anon     bool
	debug    bool
	preview  bool
	check    bool
	fallback string
}

func newRenderCmd() *cobra.Command {
	f := renderFlags{}
	def := notice.PreviewContext()
	cmd := &cobra.Command{
		Use:   "render <banner>",
		Short: "Render a banner from fixture files",
		Long: `Renders a banner defined in YAML fixture files and prints the body and the
preload script as JSON. --preview prints the admin preview wrapper instead,
--check lists placeholders nothing would resolve.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRender(cmd, args[0], f)
		},
	}
	fl := cmd.Flags()
	fl.StringSliceVarP(&f.fixtures, "fixtures", "f", nil, "fixture files, later files override earlier ones")
	fl.StringVar(&f.campaign, "campaign", "", "campaign name for {{{campaign}}}")
	fl.StringVar(&f.language, "lang", def.Language, "display language")
	fl.StringVar(&f.country, "country", def.Country, "country code")
	fl.StringVar(&f.project, "project", def.Project, "project")
	fl.StringVar(&f.device, "device", def.Device, "device class")
	fl.IntVar(&f.bucket, "bucket", def.Bucket, "bucket")
	fl.BoolVar(&f.anon, "anon", def.Anonymous, "anonymous viewer")
	fl.BoolVar(&f.debug, "debug", false, "skip preload minification")
	fl.BoolVar(&f.preview, "preview", false, "print the preview wrapper")
	fl.BoolVar(&f.check, "check", false, "list unresolved placeholders")
	fl.StringVar(&f.fallback, "fallback-lang", "en", "fallback language")
	_ = cmd.MarkFlagRequired("fixtures")
	return cmd
}

func runRender(cmd *cobra.Command, name string, f renderFlags) error {
	ctx := cmd.Context()
	set, err := fixtures.Load(f.fixtures...)
	if err != nil {
		return err
	}
	b, err := set.Banner(ctx, name)
	if err != nil {
		return err
	}
	alloc := notice.NewAllocationContext(f.country, f.language, f.project, f.anon, f.device, f.bucket)
	r, err := render.New(render.Options{Localizer: messages.NewCatalog(set.Messages(), f.fallback)},
		render.Request{Language: alloc.Language, Debug: f.debug}, b, f.campaign, &alloc)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	switch {
	case f.check:
		missing, err := r.UnresolvedPlaceholders(ctx)
		if err != nil {
			return err
		}
		for _, m := range missing {
			fmt.Fprintln(out, m)
		}
		if len(missing) > 0 {
			return fmt.Errorf("%w: %d unresolved placeholder(s) in %s", notice.ErrConfiguration, len(missing), name)
		}
		return nil
	case f.preview:
		html, err := r.PreviewFieldSet(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, html)
		return nil
	}

	body, err := r.Body(ctx)
	if err != nil {
		return err
	}
	preload, err := r.PreloadJS(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]string{
		"banner":   b.Name,
		"campaign": f.campaign,
		"html":     body,
		"preload":  preload,
	})
}

func newBannersCmd() *cobra.Command {
	var files []string
	cmd := &cobra.Command{
		Use:   "banners",
		Short: "List the banners defined in fixture files",
		RunE: func(cmd *cobra.Command, _ []string) error {
			set, err := fixtures.Load(files...)
			if err != nil {
				return err
			}
			for _, n := range set.Names() {
				fmt.Fprintln(cmd.OutOrStdout(), n)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&files, "fixtures", "f", nil, "fixture files")
	_ = cmd.MarkFlagRequired("fixtures")
	return cmd
}
