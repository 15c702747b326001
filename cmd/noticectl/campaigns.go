package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"notice-engine/internal/config"
	"notice-engine/internal/notice"
	"notice-engine/internal/storage"
)

func newCampaignsCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "campaigns",
		Short: "Inspect campaigns in the database",
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default configs/application.yaml)")
	cmd.AddCommand(newCampaignsListCmd(&cfgFile), newCampaignsLogsCmd(&cfgFile))
	return cmd
}

func openCampaigns(cmd *cobra.Command, cfgFile string) (*storage.Campaigns, func(), error) {
	cfg, err := config.LoadFile(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	store, err := storage.New(cmd.Context(), cfg)
	if err != nil {
		return nil, nil, err
	}
	return storage.NewCampaigns(store.DB()), store.Close, nil
}

func newCampaignsListCmd(cfgFile *string) *cobra.Command {
	var (
		f    notice.CampaignFilter
		date string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List campaign names matching the filters",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if date != "" {
				d, err := time.Parse(time.RFC3339, date)
				if err != nil {
					return fmt.Errorf("--date: %w", err)
				}
				f.Date = d
			}
			campaigns, closeFn, err := openCampaigns(cmd, *cfgFile)
			if err != nil {
				return err
			}
			defer closeFn()

			ctx := cmd.Context()
			ids, err := campaigns.List(ctx, f)
			if err != nil {
				return err
			}
			for _, id := range ids {
				name, err := campaigns.Name(ctx, id)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.Project, "project", "", "targeted project")
	fl.StringVar(&f.Language, "language", "", "targeted language")
	fl.StringVar(&f.Country, "country", "", "targeted country; without it geo campaigns are skipped")
	fl.StringVar(&date, "date", "", "running at this RFC3339 time")
	fl.BoolVar(&f.EnabledOnly, "enabled", false, "only enabled campaigns")
	return cmd
}

func newCampaignsLogsCmd(cfgFile *string) *cobra.Command {
	var q notice.LogQuery
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the campaign change log as JSON lines",
		RunE: func(cmd *cobra.Command, _ []string) error {
			campaigns, closeFn, err := openCampaigns(cmd, *cfgFile)
			if err != nil {
				return err
			}
			defer closeFn()

			entries, err := campaigns.Logs(cmd.Context(), q)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, e := range entries {
				if err := enc.Encode(e); err != nil {
					return err
				}
			}
			return nil
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&q.Campaign, "campaign", "", "campaign name substring")
	fl.Int64Var(&q.UserID, "user", 0, "acting user id")
	fl.IntVar(&q.Limit, "limit", 50, "maximum entries")
	fl.IntVar(&q.Offset, "offset", 0, "entries to skip")
	return cmd
}
