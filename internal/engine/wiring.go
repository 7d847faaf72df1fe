package engine

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/tgmedia/crawler/internal/config"
	"github.com/tgmedia/crawler/internal/ingestor"
	"github.com/tgmedia/crawler/internal/model"
	"github.com/tgmedia/crawler/internal/policy"
	"github.com/tgmedia/crawler/internal/scheduler"
	"github.com/tgmedia/crawler/internal/telegram"
)

// policySizeLookup adapts a ChannelConfigView's SizeRange method into the
// policy.SizeRangeLookup function type filter.go expects.
func policySizeLookup(view *config.View) policy.SizeRangeLookup {
	return view.SizeRange
}

// resolveChannelSpecs resolves spider.channels[] to their current
// title/access hash via the facade, and pairs each with its configured
// mediasAllowed override. "me", the reserved id for the user's own
// saved-messages sink, is resolved separately via GetSelfChannel since it
// is not a broadcast channel and never goes through GetChannels' numeric
// id batch.
func resolveChannelSpecs(ctx context.Context, facade telegram.Facade, view *config.View, cfg *config.Config) ([]scheduler.ChannelSpec, error) {
	var channels []model.Channel

	ids := make([]int64, 0, len(cfg.SpiderChannels))
	for _, c := range cfg.SpiderChannels {
		if c.ID == "me" {
			self, err := facade.GetSelfChannel(ctx)
			if err != nil {
				return nil, fmt.Errorf("resolve \"me\" channel: %w", err)
			}
			channels = append(channels, self)
			continue
		}
		id, err := strconv.ParseInt(c.ID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("spider.channels entry %q is not a numeric channel id: %w", c.ID, err)
		}
		ids = append(ids, id)
	}

	if len(ids) > 0 {
		resolved, err := facade.GetChannels(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("resolve channels: %w", err)
		}
		channels = append(channels, resolved...)
	}

	specs := make([]scheduler.ChannelSpec, 0, len(channels))
	for _, ch := range channels {
		specs = append(specs, scheduler.ChannelSpec{
			Channel:            ch,
			MediasAllowed:      view.MediasAllowed(ch.ID),
			NewChannelStrategy: ingestor.DefaultNewChannelStrategy,
		})
	}
	return specs, nil
}

func secondsToDuration(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}
