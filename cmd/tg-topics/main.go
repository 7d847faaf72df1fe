// cmd/tg-topics is a diagnostic CLI: given a channel username, it prints
// its forum topics (if any) through the same telegram.Facade the crawler
// uses, so its output reflects exactly what the ingestor would see.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gotd/td/tg"

	"github.com/tgmedia/crawler/internal/config"
	"github.com/tgmedia/crawler/internal/database"
	"github.com/tgmedia/crawler/internal/model"
	"github.com/tgmedia/crawler/internal/telegram"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("usage: tg-topics @channel_username")
		fmt.Println("example: tg-topics @golang_jobs")
		os.Exit(1)
	}

	username := strings.TrimPrefix(os.Args[1], "@")
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("error: failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.TGApiID == 0 || cfg.TGApiHash == "" {
		fmt.Println("error: missing required environment variables")
		fmt.Println("please set: TG_API_ID, TG_API_HASH")
		os.Exit(1)
	}

	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		fmt.Printf("error connecting to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	manager := telegram.NewManager(cfg, db.GORM)
	if err := manager.Init(ctx); err != nil {
		fmt.Printf("error initializing telegram client: %v\n", err)
		os.Exit(1)
	}
	defer manager.Stop()

	client := manager.GetClient()
	if client == nil {
		fmt.Println("error: telegram client not authorized — run tg-auth and sign in first")
		os.Exit(1)
	}

	// username resolution is not part of the crawler's domain surface
	// (spider.channels[] carries numeric ids or "me"), so this tool
	// resolves it directly against the raw API before handing off to
	// the facade for everything downstream.
	resolved, err := client.API().ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{
		Username: username,
	})
	if err != nil {
		fmt.Printf("error resolving username: %v\n", err)
		os.Exit(1)
	}
	if len(resolved.Chats) == 0 {
		fmt.Printf("channel @%s not found\n", username)
		os.Exit(1)
	}
	tgChannel, ok := resolved.Chats[0].(*tg.Channel)
	if !ok {
		fmt.Printf("@%s is not a channel\n", username)
		os.Exit(1)
	}

	fullChannel, err := client.API().ChannelsGetFullChannel(ctx, &tg.InputChannel{
		ChannelID:  tgChannel.ID,
		AccessHash: tgChannel.AccessHash,
	})
	if err != nil {
		fmt.Printf("error getting channel info: %v\n", err)
		os.Exit(1)
	}
	chFull, ok := fullChannel.FullChat.(*tg.ChannelFull)
	if !ok {
		fmt.Println("unexpected channel type")
		os.Exit(1)
	}

	channel := model.Channel{
		ID:         fmt.Sprintf("%d", tgChannel.ID),
		AccessHash: tgChannel.AccessHash,
		Title:      tgChannel.Title,
		IsForum:    chFull.Flags.Has(30),
	}

	fmt.Printf("fetching topics for @%s...\n\n", username)

	if !channel.IsForum {
		fmt.Printf("@%s is not a forum (no topics available)\n", username)
		fmt.Println("this tool only works with forum-type supergroups")
		os.Exit(0)
	}

	facade := telegram.NewFacade(manager, cfg)
	topics, err := facade.GetForumTopics(ctx, channel)
	if err != nil {
		fmt.Printf("error fetching topics: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("forum: %s (@%s)\n", channel.Title, username)
	fmt.Printf("total topics: %d\n\n", len(topics))

	fmt.Printf("%-8s | %-30s\n", "id", "title")
	fmt.Println(strings.Repeat("-", 45))

	for _, t := range topics {
		title := t.Title
		if len(title) > 30 {
			title = title[:27] + "..."
		}
		fmt.Printf("%-8s | %-30s\n", t.ID, title)
	}

	fmt.Println("\nthe crawler saves media from a topic under <DATA_DIR>/<channel>/_<topic id>/")
}
