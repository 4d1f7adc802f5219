// Command relayctl is a small client for a relaybox server: post and poll over
// the HTTP gateway, or chat over a live session.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"relaybox/pkg/client"
	"relaybox/pkg/constants"

	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
)

const usage = `usage: relayctl <command> [flags]

commands:
  send   --from ID --to ID BODY   store a message for a recipient
  poll   --as ID                  collect pending messages
  count  --as ID                  show how many messages are pending
  chat   --as ID                  open a live session; lines "to: body" are sent
  health                          check the relay
`

type options struct {
	server  string
	token   string
	as      string
	from    string
	to      string
	timeout time.Duration
	verbose bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "relayctl: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, in io.Reader, out io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(out, usage)
		return errors.New("missing command")
	}

	command := args[0]
	opts, rest, err := parseFlags(command, args[1:])
	if err != nil {
		return err
	}

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(logrus.WarnLevel)
	if opts.verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	c := client.NewClient(opts.server, client.Options{Token: opts.token, Logger: logger})

	switch command {
	case "send":
		if len(rest) == 0 {
			return errors.New("send needs a message body")
		}
		return cmdSend(ctx, c, opts, strings.Join(rest, " "), out)
	case "poll":
		return cmdPoll(ctx, c, opts, out)
	case "count":
		return cmdCount(ctx, c, opts, out)
	case "chat":
		return cmdChat(ctx, c, opts, in, out)
	case "health":
		return withTimeout(ctx, opts, func(ctx context.Context) error {
			if err := c.Health(ctx); err != nil {
				return err
			}
			fmt.Fprintln(out, "ok")
			return nil
		})
	default:
		fmt.Fprint(out, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

func parseFlags(command string, args []string) (*options, []string, error) {
	opts := &options{}
	fs := flag.NewFlagSet(command, flag.ContinueOnError)
	fs.StringVarP(&opts.server, "server", "s", envOr("RELAYBOX_SERVER", constants.DefaultServerURL), "Relay base URL")
	fs.StringVarP(&opts.token, "token", "t", os.Getenv("RELAYBOX_TOKEN"), "Bearer token")
	fs.StringVar(&opts.as, "as", "", "Identity to act as")
	fs.StringVar(&opts.from, "from", "", "Sender identity")
	fs.StringVar(&opts.to, "to", "", "Recipient identity")
	fs.DurationVar(&opts.timeout, "timeout", constants.DefaultHTTPTimeoutSec*time.Second, "Request timeout")
	fs.BoolVarP(&opts.verbose, "verbose", "v", false, "Log retries and requests")

	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	if opts.from == "" {
		opts.from = opts.as
	}
	return opts, fs.Args(), nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func withTimeout(ctx context.Context, opts *options, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()
	return fn(ctx)
}

func cmdSend(ctx context.Context, c client.Client, opts *options, body string, out io.Writer) error {
	if opts.from == "" || opts.to == "" {
		return errors.New("send needs --from and --to")
	}
	return withTimeout(ctx, opts, func(ctx context.Context) error {
		msg, err := c.Post(ctx, opts.from, opts.to, body)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "stored #%d (%s)\n", msg.ID, msg.Status)
		return nil
	})
}

func cmdPoll(ctx context.Context, c client.Client, opts *options, out io.Writer) error {
	if opts.as == "" {
		return errors.New("poll needs --as")
	}
	return withTimeout(ctx, opts, func(ctx context.Context) error {
		items, err := c.Poll(ctx, opts.as)
		if err != nil {
			return err
		}
		for _, item := range items {
			fmt.Fprintf(out, "#%d %s %s: %s\n", item.ID, item.CreatedAt.Format(time.RFC3339), item.Sender, item.Body)
		}
		return nil
	})
}

func cmdCount(ctx context.Context, c client.Client, opts *options, out io.Writer) error {
	if opts.as == "" {
		return errors.New("count needs --as")
	}
	return withTimeout(ctx, opts, func(ctx context.Context) error {
		n, err := c.PendingCount(ctx, opts.as)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, n)
		return nil
	})
}

// cmdChat prints every incoming message and acknowledges it. Each input line
// of the form "recipient: body" is sent; EOF ends the session.
func cmdChat(ctx context.Context, c client.Client, opts *options, in io.Reader, out io.Writer) error {
	if opts.as == "" {
		return errors.New("chat needs --as")
	}

	lc, err := c.DialLive(ctx, opts.as)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "connected as %s (session %s)\n", lc.Identity(), lc.SessionID())

	readErr := make(chan error, 1)
	go func() {
		readErr <- printIncoming(ctx, lc, out)
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return endChat(lc, readErr)
		case err := <-readErr:
			_ = lc.Abort()
			if errors.Is(err, client.ErrClosed) {
				return nil
			}
			return err
		case line, ok := <-lines:
			if !ok {
				return endChat(lc, readErr)
			}
			recipient, body, found := strings.Cut(line, ":")
			if !found {
				fmt.Fprintln(out, `expected "recipient: body"`)
				continue
			}
			if err := lc.Send(ctx, strings.TrimSpace(recipient), strings.TrimSpace(body)); err != nil {
				_ = lc.Abort()
				return err
			}
		}
	}
}

// endChat sends exit and gives the reader a moment to see the relay's bye
func endChat(lc *client.LiveConn, readErr <-chan error) error {
	ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultByeWaitMs*time.Millisecond)
	defer cancel()

	if err := lc.Exit(ctx); err == nil {
		select {
		case <-readErr:
		case <-ctx.Done():
		}
	}
	_ = lc.Abort()
	return nil
}

func printIncoming(ctx context.Context, lc *client.LiveConn, out io.Writer) error {
	for {
		f, err := lc.Next(ctx)
		if err != nil {
			return err
		}
		switch f.Type {
		case client.FrameMessage:
			fmt.Fprintf(out, "%s: %s\n", f.Sender, f.Body)
			if err := lc.Ack(ctx, f.ID); err != nil {
				return err
			}
		case client.FrameStored:
			state := "pending"
			if f.Delivered {
				state = "delivered"
			}
			fmt.Fprintf(out, "stored #%d (%s)\n", f.ID, state)
		case client.FrameError:
			fmt.Fprintf(out, "error %s: %s\n", f.Code, f.Message)
		case client.FrameBye:
			return client.ErrClosed
		}
	}
}
