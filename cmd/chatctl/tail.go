package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/lrhodin/chatsync/pkg/chatsync"
)

var threadsCommand = &cli.Command{
	Name:    "threads",
	Aliases: []string{"ls"},
	Usage:   "List chat threads",
	Before:  requiresAuth,
	Action:  cmdThreads,
}

func cmdThreads(ctx *cli.Context) error {
	metas, err := getClient(ctx).ListThreadsMeta(ctx.Context)
	if err != nil {
		return fmt.Errorf("failed to list threads: %w", err)
	}
	for _, meta := range metas {
		online := ""
		if meta.Online {
			online = " [online]"
		}
		fmt.Printf("%s  %s%s\n", meta.ChatID, meta.PeerName, online)
	}
	return nil
}

var tailCommand = &cli.Command{
	Name:      "tail",
	Usage:     "Follow a chat thread, polling for new messages",
	ArgsUsage: "CHAT_ID",
	Before:    requiresAuth,
	Flags: []cli.Flag{
		&cli.DurationFlag{
			Name:  "poll",
			Usage: "Poll interval for new messages",
			Value: 5 * time.Second,
		},
		&cli.IntFlag{
			Name:  "history",
			Usage: "Paginate backward until at least this many messages are loaded",
		},
	},
	Action: cmdTail,
}

func cmdTail(ctx *cli.Context) error {
	chatID := ctx.Args().Get(0)
	if chatID == "" {
		return fmt.Errorf("usage: chatctl tail CHAT_ID")
	}
	cfg := getConfig(ctx)
	client := getClient(ctx)
	log := getLogger(ctx)

	runCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Pick up token rotations without restarting the tail.
	if err := watchConfig(runCtx, cfg.Path, log, func(newCfg *Config) {
		client.SetToken(newCfg.AccessToken)
	}); err != nil {
		log.Warn().Err(err).Msg("Config watching disabled")
	}

	session := chatsync.NewThreadSession(client, log, chatsync.SessionConfig{
		PageSize:          cfg.PageSize,
		TypingIdleTimeout: cfg.TypingIdleTimeout(),
	})
	if err := session.Load(runCtx, chatID); err != nil {
		return err
	}

	for wanted := ctx.Int("history"); session.Store().Len() < wanted && !session.EndReached(); {
		if err := session.LoadMore(runCtx); err != nil {
			return err
		}
	}

	seen := make(map[string]struct{})
	printNew := func() {
		msgs := session.Messages()
		// Store order is newest first; print chronologically.
		for i := len(msgs) - 1; i >= 0; i-- {
			if _, done := seen[msgs[i].ID]; done {
				continue
			}
			seen[msgs[i].ID] = struct{}{}
			printMessage(msgs[i])
		}
	}
	if meta := session.Meta(); meta != nil {
		fmt.Printf("== %s ==\n", meta.PeerName)
	}
	printNew()

	ticker := time.NewTicker(ctx.Duration("poll"))
	defer ticker.Stop()
	for {
		select {
		case <-runCtx.Done():
			return nil
		case <-ticker.C:
			if err := session.Load(runCtx, chatID); err != nil {
				log.Warn().Err(err).Msg("Poll failed, keeping current view")
				continue
			}
			printNew()
		}
	}
}

func printMessage(msg chatsync.Message) {
	ts := msg.CreatedAt.Time.Local().Format("15:04:05")
	sender := msg.SenderName
	if sender == "" {
		sender = msg.SenderID
	}
	var sb strings.Builder
	if msg.ReplyTo != nil {
		fmt.Fprintf(&sb, "↩ %s: %s | ", msg.ReplyTo.SenderName, msg.ReplyTo.Text)
	}
	sb.WriteString(msg.Text)
	for _, att := range msg.Attachments {
		fmt.Fprintf(&sb, " [%s: %s]", att.Type, att.URL)
	}
	fmt.Printf("%s <%s> %s\n", ts, sender, sb.String())
}
