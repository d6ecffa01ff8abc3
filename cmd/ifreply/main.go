package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/joshuafuller/ifreply/client"
	"github.com/joshuafuller/ifreply/internal/config"
	"github.com/joshuafuller/ifreply/internal/iface"
	"github.com/joshuafuller/ifreply/responder"
)

var (
	configPath string
	logLevel   string

	// serve flags
	servePort       int
	serveInterval   time.Duration
	serveResolver   string
	serveBufferSize int

	// send flags
	sendServer   string
	sendMessage  string
	sendCount    int
	sendInterval time.Duration
	sendWait     time.Duration
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "ifreply",
		Short: "Interface-aware UDP responder (serve/send/resolve)",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "HCL configuration file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (default from config, else info)")

	serve := &cobra.Command{
		Use:          "serve",
		Short:        "Answer every datagram on the path matching its ingress interface (Ctrl+C to stop)",
		Args:         cobra.NoArgs,
		RunE:         runServe,
		SilenceUsage: true,
	}
	serve.Flags().IntVar(&servePort, "port", 0, "UDP port to bind on 0.0.0.0 (default from config, else 12345)")
	serve.Flags().DurationVar(&serveInterval, "interval", 0, "Counter update interval (default from config, else 1s)")
	serve.Flags().StringVar(&serveResolver, "resolver", "", "Interface resolver: ioctl, netlink, stdlib (default: platform)")
	serve.Flags().IntVar(&serveBufferSize, "buffer-size", 0, "Receive buffer per datagram in bytes (default from config, else 1024)")

	send := &cobra.Command{
		Use:          "send",
		Short:        "Send probe datagrams and optionally wait for counter replies",
		Args:         cobra.NoArgs,
		RunE:         runSend,
		SilenceUsage: true,
	}
	send.Flags().StringVar(&sendServer, "server", "", "Responder address host:port (default from config, else 127.0.0.1:12345)")
	send.Flags().StringVar(&sendMessage, "message", "", "Probe payload (default from config)")
	send.Flags().IntVar(&sendCount, "count", 1, "Number of probes, 0 repeats until interrupted")
	send.Flags().DurationVar(&sendInterval, "interval", 0, "Delay between probes (default from config, else 1s)")
	send.Flags().DurationVar(&sendWait, "wait", 0, "Wait this long for each reply, 0 sends without waiting")

	resolve := &cobra.Command{
		Use:          "resolve <index>",
		Short:        "Print the name and IPv4 address of an interface index",
		Args:         cobra.ExactArgs(1),
		RunE:         runResolve,
		SilenceUsage: true,
	}
	resolve.Flags().StringVar(&serveResolver, "resolver", "", "Interface resolver: ioctl, netlink, stdlib (default: platform)")

	root.AddCommand(serve, send, resolve)
	return root
}

// loadConfig reads the configuration file if one was given, applies flag
// overrides through apply and installs the default logger.
func loadConfig(cmd *cobra.Command, apply func(*config.Config)) (*config.Config, *slog.Logger, error) {
	cfg := config.Default()
	if configPath != "" {
		c, err := config.LoadFile(configPath)
		if err != nil {
			return nil, nil, err
		}
		cfg = c
	}

	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if apply != nil {
		apply(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	lvl, err := cfg.Level()
	if err != nil {
		return nil, nil, err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// =============================
// serve
// =============================

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd, func(c *config.Config) {
		flags := cmd.Flags()
		if flags.Changed("port") {
			c.Port = servePort
		}
		if flags.Changed("interval") {
			c.UpdateInterval = serveInterval.String()
		}
		if flags.Changed("resolver") {
			c.Resolver = serveResolver
		}
		if flags.Changed("buffer-size") {
			c.BufferSize = serveBufferSize
		}
	})
	if err != nil {
		return err
	}

	interval, err := cfg.Interval()
	if err != nil {
		return err
	}
	res, err := iface.New(cfg.Resolver)
	if err != nil {
		return err
	}

	r, err := responder.New(
		responder.WithPort(cfg.Port),
		responder.WithBufferSize(cfg.BufferSize),
		responder.WithInterval(interval),
		responder.WithResolver(res),
		responder.WithLogger(logger),
	)
	if err != nil {
		logger.Error("startup failed", slog.Any("error", err))
		return err
	}
	defer r.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := r.Serve(ctx); err != nil {
		return err
	}
	logger.Info("stopped")
	return nil
}

// =============================
// send
// =============================

func runSend(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd, func(c *config.Config) {
		flags := cmd.Flags()
		if flags.Changed("server") {
			c.Client.Server = sendServer
		}
		if flags.Changed("message") {
			c.Client.Message = sendMessage
		}
		if flags.Changed("interval") {
			c.Client.Interval = sendInterval.String()
		}
	})
	if err != nil {
		return err
	}

	interval, err := cfg.ClientInterval()
	if err != nil {
		return err
	}

	opts := []client.Option{client.WithLogger(logger)}
	if sendWait > 0 {
		opts = append(opts, client.WithTimeout(sendWait))
	}
	c, err := client.New(cfg.Client.Server, opts...)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	payload := []byte(cfg.Client.Message)

	if sendWait <= 0 {
		return sendOnly(ctx, c, payload, cfg.Client.Server, interval)
	}

	var lost int
	err = c.Loop(ctx, payload, interval, sendCount, func(rep client.Reply) {
		if rep.Err != nil {
			lost++
			fmt.Printf("seq=%d no reply: %v\n", rep.Seq, rep.Err)
			return
		}
		fmt.Printf("seq=%d counter=%d from=%s rtt=%s\n", rep.Seq, rep.Value, rep.From, rep.RTT.Round(time.Microsecond))
	})
	if err != nil {
		return err
	}
	if lost > 0 {
		return fmt.Errorf("%d probe(s) without reply", lost)
	}
	return nil
}

func sendOnly(ctx context.Context, c *client.Client, payload []byte, server string, interval time.Duration) error {
	for i := 1; sendCount <= 0 || i <= sendCount; i++ {
		if err := c.Send(ctx, payload); err != nil {
			return err
		}
		fmt.Printf("Message sent to %s\n", server)

		if sendCount > 0 && i == sendCount {
			break
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}
	}
	return nil
}

// =============================
// resolve
// =============================

func runResolve(cmd *cobra.Command, args []string) error {
	index, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid interface index %q: %w", args[0], err)
	}

	cfg, _, err := loadConfig(cmd, func(c *config.Config) {
		if cmd.Flags().Changed("resolver") {
			c.Resolver = serveResolver
		}
	})
	if err != nil {
		return err
	}

	res, err := iface.New(cfg.Resolver)
	if err != nil {
		return err
	}
	d, err := res.Resolve(index)
	if err != nil {
		return err
	}
	fmt.Println(d.String())
	return nil
}
