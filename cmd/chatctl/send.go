package main

import (
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"
	"go.mau.fi/util/ptr"

	"github.com/lrhodin/chatsync/pkg/chatsync"
)

var replyToFlag = &cli.StringFlag{
	Name:  "reply-to",
	Usage: "Message ID to quote-reply to",
}

func replyToID(ctx *cli.Context) *string {
	if id := ctx.String("reply-to"); id != "" {
		return ptr.Ptr(id)
	}
	return nil
}

// newSession loads a thread session for one-shot send commands.
func newSession(ctx *cli.Context, chatID string) (*chatsync.ThreadSession, error) {
	cfg := getConfig(ctx)
	session := chatsync.NewThreadSession(getClient(ctx), getLogger(ctx), chatsync.SessionConfig{
		PageSize:          cfg.PageSize,
		TypingIdleTimeout: cfg.TypingIdleTimeout(),
	})
	if err := session.Load(ctx.Context, chatID); err != nil {
		return nil, err
	}
	return session, nil
}

var sendCommand = &cli.Command{
	Name:      "send",
	Usage:     "Send a text message",
	ArgsUsage: "CHAT_ID TEXT...",
	Before:    requiresAuth,
	Flags: []cli.Flag{
		replyToFlag,
		&cli.BoolFlag{
			Name:  "typing",
			Usage: "Emit a typing indicator around the send",
		},
	},
	Action: cmdSend,
}

func cmdSend(ctx *cli.Context) error {
	chatID := ctx.Args().Get(0)
	text := strings.Join(ctx.Args().Tail(), " ")
	if chatID == "" || text == "" {
		return fmt.Errorf("usage: chatctl send CHAT_ID TEXT...")
	}
	session, err := newSession(ctx, chatID)
	if err != nil {
		return err
	}
	if ctx.Bool("typing") {
		if err = session.Typing().SetTyping(ctx.Context, true); err != nil {
			return err
		}
	}
	if err = session.Sender().SendText(ctx.Context, text, replyToID(ctx)); err != nil {
		return err
	}
	if ctx.Bool("typing") {
		// Input is "cleared" after the send; stop explicitly instead of
		// waiting for the idle timer.
		if err = session.Typing().SetTyping(ctx.Context, false); err != nil {
			return err
		}
	}
	fmt.Println("Sent")
	return nil
}

var sendImageCommand = &cli.Command{
	Name:      "send-image",
	Usage:     "Send an image message",
	ArgsUsage: "CHAT_ID PATH...",
	Before:    requiresAuth,
	Flags: []cli.Flag{
		replyToFlag,
		&cli.StringFlag{
			Name:  "caption",
			Usage: "Caption sent as a follow-up text message",
		},
	},
	Action: cmdSendImage,
}

func cmdSendImage(ctx *cli.Context) error {
	chatID := ctx.Args().Get(0)
	paths := ctx.Args().Tail()
	if chatID == "" || len(paths) == 0 {
		return fmt.Errorf("usage: chatctl send-image CHAT_ID PATH...")
	}
	session, err := newSession(ctx, chatID)
	if err != nil {
		return err
	}
	if err = session.Sender().SendImages(ctx.Context, paths, replyToID(ctx), ctx.String("caption")); err != nil {
		return err
	}
	fmt.Println("Sent")
	return nil
}

var sendVideoCommand = &cli.Command{
	Name:      "send-video",
	Usage:     "Send a video message",
	ArgsUsage: "CHAT_ID PATH",
	Before:    requiresAuth,
	Flags:     []cli.Flag{replyToFlag},
	Action:    cmdSendVideo,
}

func cmdSendVideo(ctx *cli.Context) error {
	chatID := ctx.Args().Get(0)
	path := ctx.Args().Get(1)
	if chatID == "" || path == "" {
		return fmt.Errorf("usage: chatctl send-video CHAT_ID PATH")
	}
	session, err := newSession(ctx, chatID)
	if err != nil {
		return err
	}
	if err = session.Sender().SendVideo(ctx.Context, path, replyToID(ctx)); err != nil {
		return err
	}
	fmt.Println("Sent")
	return nil
}
