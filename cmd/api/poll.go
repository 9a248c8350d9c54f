package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"orderhub/internal/integrations"
	"orderhub/internal/model"
	"orderhub/internal/orderhub"
	"orderhub/internal/sink"
	"orderhub/internal/store"
)

var (
	pollStatus  string
	pollLimit   int
	pollApply   bool
	pollTimeout time.Duration
)

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Fetch orders from every enabled platform once and print them as JSON",
	RunE:  runPoll,
}

func init() {
	pollCmd.Flags().StringVar(&pollStatus, "status", "", "comma-separated unified statuses to fetch")
	pollCmd.Flags().IntVar(&pollLimit, "limit", 50, "max orders per platform")
	pollCmd.Flags().BoolVar(&pollApply, "apply", false, "also route every fetched order into the configured state store and sink")
	pollCmd.Flags().DurationVar(&pollTimeout, "timeout", time.Minute, "overall deadline")
}

func runPoll(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	filters := model.OrderFilters{Limit: pollLimit}
	if pollStatus != "" {
		for _, s := range strings.Split(pollStatus, ",") {
			st := model.OrderStatus(strings.TrimSpace(s))
			if !st.Valid() {
				return fmt.Errorf("unknown status %q", s)
			}
			filters.Status = append(filters.Status, st)
		}
	}

	platforms, err := buildPlatforms(cfg, log)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), pollTimeout)
	defer cancel()

	res := integrations.NewAggregator(platforms, log).FetchAll(ctx, filters)

	if pollApply {
		st, err := store.Open(ctx, cfg.Store)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer st.Close()
		sk, err := sink.Open(ctx, cfg.Sink, log)
		if err != nil {
			return fmt.Errorf("open sink: %w", err)
		}
		defer sk.Close()

		hub := orderhub.NewHub(st, sk, orderhub.Options{MailboxSize: cfg.Sync.MailboxSize, Log: log})
		applied := 0
		for _, o := range res.Orders {
			if _, err := hub.Route(ctx, o.Update()); err != nil {
				log.WithField("order_id", o.ID).WithError(err).Warn("apply failed")
				continue
			}
			applied++
		}
		hub.Close()
		log.WithField("applied", applied).Info("orders applied")
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
