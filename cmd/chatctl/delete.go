package main

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

var deleteCommand = &cli.Command{
	Name:      "delete",
	Usage:     "Delete a message",
	ArgsUsage: "CHAT_ID MESSAGE_ID",
	Before:    requiresAuth,
	Action:    cmdDelete,
}

func cmdDelete(ctx *cli.Context) error {
	chatID := ctx.Args().Get(0)
	messageID := ctx.Args().Get(1)
	if chatID == "" || messageID == "" {
		return fmt.Errorf("usage: chatctl delete CHAT_ID MESSAGE_ID")
	}
	session, err := newSession(ctx, chatID)
	if err != nil {
		return err
	}
	if err = session.Sender().DeleteMessage(ctx.Context, messageID); err != nil {
		return err
	}
	fmt.Println("Deleted")
	return nil
}
