// Package console is the interactive terminal surface. Plain lines are
// prompts; lines starting with ':' are commands.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"go.uber.org/zap"

	"fastsd/core"
	"fastsd/gallery"
	"fastsd/logging"
	"fastsd/session"
	"fastsd/settings"
)

// Dispatcher accepts generation requests.
type Dispatcher interface {
	Trigger(s session.GenerationSettings) *session.Ticket
}

// Archiver saves the images of a finished result.
type Archiver interface {
	Store(ctx context.Context, r session.Result) ([]gallery.SavedImage, error)
}

type outcome struct {
	result  session.Result
	images  []gallery.SavedImage
	saveErr error
}

// Console runs the read-eval loop over an input stream.
type Console struct {
	in       io.Reader
	out      io.Writer
	live     *settings.Live
	dispatch Dispatcher
	archive  Archiver
	logger   *zap.Logger
	onQuit   func()

	results chan outcome
	pending sync.WaitGroup

	ok    *color.Color
	fail  *color.Color
	info  *color.Color
	title *color.Color
}

// Option configures a Console.
type Option func(*Console)

func WithLogger(l *zap.Logger) Option {
	return func(c *Console) { c.logger = l }
}

// WithQuit sets the callback run by :quit, usually the shutdown trigger.
func WithQuit(fn func()) Option {
	return func(c *Console) { c.onQuit = fn }
}

func New(in io.Reader, out io.Writer, live *settings.Live, d Dispatcher, a Archiver, opts ...Option) *Console {
	c := &Console{
		in:       in,
		out:      out,
		live:     live,
		dispatch: d,
		archive:  a,
		logger:   zap.NewNop(),
		onQuit:   func() {},
		results:  make(chan outcome, 8),
		ok:       color.New(color.FgGreen),
		fail:     color.New(color.FgRed),
		info:     color.New(color.FgHiBlack),
		title:    color.New(color.FgCyan, color.Bold),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run reads lines until :quit, end of input or ctx is done. At end of input
// it first waits for requests still in flight and prints their results.
func (c *Console) Run(ctx context.Context) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
		close(lines)
	}()

	c.title.Fprintln(c.out, core.AppName+" "+core.Version)
	c.info.Fprintln(c.out, "Type a prompt to generate, :help for commands.")

	for {
		select {
		case <-ctx.Done():
			return nil

		case o := <-c.results:
			c.printOutcome(o)

		case line, open := <-lines:
			if !open {
				c.drain(ctx)
				return <-readErr
			}
			if quit := c.handleLine(strings.TrimSpace(line)); quit {
				c.onQuit()
				return nil
			}
		}
	}
}

// drain prints every outstanding result.
func (c *Console) drain(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		c.pending.Wait()
		close(done)
	}()
	for {
		select {
		case o := <-c.results:
			c.printOutcome(o)
		case <-done:
			for {
				select {
				case o := <-c.results:
					c.printOutcome(o)
				default:
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *Console) handleLine(line string) bool {
	switch {
	case line == "":
		return false
	case strings.HasPrefix(line, ":"):
		return c.command(line[1:])
	default:
		c.generate(line)
		return false
	}
}

// generate triggers a request and hands its result back to the loop
// through c.results.
func (c *Console) generate(prompt string) {
	ticket := c.dispatch.Trigger(c.live.Snapshot(prompt))
	c.live.Update(func(a *settings.AppSettings) {
		a.LCMDiffusionSetting.Prompt = prompt
	})
	fmt.Fprintln(c.out, "Please wait...")

	c.pending.Add(1)
	go func() {
		defer c.pending.Done()
		<-ticket.Done()
		res := ticket.Result()
		o := outcome{result: res}
		if res.OK() || !res.Err.Kind.Rejected() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			o.images, o.saveErr = c.archive.Store(ctx, res)
			cancel()
		}
		c.results <- o
	}()
}

func (c *Console) printOutcome(o outcome) {
	res := o.result
	if !res.OK() {
		c.fail.Fprintf(c.out, "[%s] %s\n", res.Err.Kind, res.Err.Message)
		if res.Err.Kind.Retryable() {
			c.info.Fprintln(c.out, "You can try again.")
		}
		return
	}

	if o.saveErr != nil {
		c.fail.Fprintf(c.out, "Generated but saving failed: %v\n", o.saveErr)
	}
	for _, img := range o.images {
		c.ok.Fprintf(c.out, "Saved %s\n", img.Path)
	}
	c.ok.Fprintf(c.out, "Done in %.2fs (seed %d)\n", res.Elapsed.Seconds(), res.Seed)
	c.logger.Debug("Console generation finished", logging.GenerationFields(res.Settings, res)...)
}
