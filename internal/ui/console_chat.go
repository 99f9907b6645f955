package ui

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/wwwzy/sweepchat/internal/service"
)

type ConsoleChatUI struct {
	In  io.Reader
	Out io.Writer
}

func (u *ConsoleChatUI) Run(ctx context.Context, backend Backend, opts ChatOptions) error {
	in := u.In
	if in == nil {
		return fmt.Errorf("console ui: In is nil")
	}
	out := u.Out
	if out == nil {
		return fmt.Errorf("console ui: Out is nil")
	}
	if strings.TrimSpace(opts.Sender) == "" {
		return fmt.Errorf("console ui: sender is empty")
	}

	r := newRenderer(opts.Width, opts.Plain)
	var inboundOpts []service.InboundOption
	if !opts.Deliver {
		inboundOpts = append(inboundOpts, service.WithoutDelivery())
	}

	scanner := bufio.NewScanner(in)
	fmt.Fprintln(out, r.header("sweepchat console. Chatting as "+opts.Sender+". Type exit or quit to leave."))
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(out, r.note("bye."))
			return nil
		default:
		}

		fmt.Fprint(out, r.prompt("you> "))
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("read input: %w", err)
			}
			fmt.Fprintln(out)
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		switch strings.ToLower(line) {
		case "exit", "quit":
			fmt.Fprintln(out, r.note("bye."))
			return nil
		}

		reply, err := backend.HandleInbound(ctx, opts.Sender, line, inboundOpts...)
		if err != nil && !(errors.Is(err, service.ErrPersistence) && reply.Text != "") {
			fmt.Fprintln(out, r.failure("error: "+err.Error()))
			fmt.Fprintln(out)
			continue
		}
		fmt.Fprintln(out, r.reply(reply.Text))
		if err != nil {
			fmt.Fprintln(out, r.note("(reply not saved: "+err.Error()+")"))
		}
		fmt.Fprintln(out)
	}
}
