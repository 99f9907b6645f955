package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/wwwzy/sweepchat/internal/tui"
	"github.com/wwwzy/sweepchat/internal/ui"
)

var (
	chatSender  string
	chatDeliver bool
	chatPlain   bool
	chatUI      string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the agents from the console",
	Long: `Start a console REPL that feeds each line through the same pipeline as an
inbound WhatsApp/SMS message. History is kept per --sender, so the console
can continue a customer's real thread.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var chat ui.ChatUI
		switch chatUI {
		case "console", "":
			chat = &ui.ConsoleChatUI{In: os.Stdin, Out: os.Stdout}
		case "tui":
			// Log lines would tear the alternate screen.
			log.SetOutput(io.Discard)
			chat = &tui.ChatUI{}
		default:
			return fmt.Errorf("unknown ui %q (supported: console, tui)", chatUI)
		}

		a, err := newApp(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()

		return chat.Run(ctx, a.service, ui.ChatOptions{
			Sender:  chatSender,
			Deliver: chatDeliver,
			Plain:   chatPlain,
		})
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVar(&chatSender, "sender", "console", "sender identifier whose thread the console uses")
	chatCmd.Flags().BoolVar(&chatDeliver, "deliver", false, "also send replies through the messaging provider")
	chatCmd.Flags().BoolVar(&chatPlain, "plain", false, "disable colors and markdown rendering")
	chatCmd.Flags().StringVar(&chatUI, "ui", "console", "chat interface: console/tui")
}
