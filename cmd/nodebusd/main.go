package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/timzifer/nodebus/config"
	"github.com/timzifer/nodebus/host"
	"github.com/timzifer/nodebus/remote"
	"github.com/timzifer/nodebus/service"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "Path to configuration file")
	healthcheck := flag.Bool("healthcheck", false, "Run a health check and exit")
	configCheck := flag.Bool("config-check", false, "Validate configuration and exit")
	graphView := flag.Bool("graph-view", false, "Enable the graph view web interface")
	graphViewListen := flag.String("graph-view-listen", "127.0.0.1:8780", "Graph view listen address")
	inspect := flag.String("inspect", "", "Inspect a running daemon's graph view at the given address and exit")
	flag.Parse()

	if *inspect != "" {
		if err := executeInspect(*inspect); err != nil {
			fmt.Fprintf(os.Stderr, "inspect failed: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	if *healthcheck {
		if err := executeHealthCheck(*cfgPath); err != nil {
			fmt.Fprintf(os.Stderr, "health check failed: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	if *configCheck {
		cfg, err := config.Load(*cfgPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "configuration invalid: %v\n", err)
			os.Exit(1)
		}
		os.Exit(executeConfigCheck(cfg))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	opts := []host.Option{host.WithConfigPath(*cfgPath, nil)}
	if *graphView {
		opts = append(opts, host.WithGraphView(*graphViewListen))
	}

	h, err := host.New(ctx, opts...)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start")
	}
	defer h.Close()

	if err := h.Run(ctx); err != nil && err != context.Canceled {
		log.Fatal().Err(err).Msg("daemon stopped with error")
	}
}

func executeHealthCheck(path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	return service.Validate(cfg, zerolog.Nop())
}

func executeConfigCheck(cfg *config.Config) int {
	if err := service.Validate(cfg, zerolog.Nop()); err != nil {
		fmt.Fprintf(os.Stderr, "configuration invalid: %v\n", err)
		return 1
	}

	if len(cfg.Nodes) == 0 {
		fmt.Println("No nodes configured.")
		return 0
	}

	for _, node := range cfg.Nodes {
		fmt.Printf("Node %s/%s\n", strings.TrimSuffix(node.Namespace, "/"), node.Name)
		printEndpoints("Publishers", len(node.Publishers), func() {
			for _, pub := range node.Publishers {
				line := fmt.Sprintf("%s -> %s (%s)", pub.ID, pub.Topic, pub.Type)
				if pub.Generator.Type != "" {
					line += fmt.Sprintf(" [generator %s]", pub.Generator.Type)
				}
				if pub.Disable {
					line += " [disabled]"
				}
				fmt.Printf("    - %s\n", line)
			}
		})
		printEndpoints("Subscriptions", len(node.Subscriptions), func() {
			for _, sub := range node.Subscriptions {
				line := fmt.Sprintf("%s <- %s (%s)", sub.ID, sub.Topic, sub.Type)
				if sub.Disable {
					line += " [disabled]"
				}
				fmt.Printf("    - %s\n", line)
			}
		})
		printEndpoints("Services", len(node.Services), func() {
			for _, svc := range node.Services {
				line := fmt.Sprintf("%s @ %s (%s)", svc.ID, svc.Service, svc.Type)
				if svc.Expression != "" {
					line += " [expression]"
				}
				if svc.Disable {
					line += " [disabled]"
				}
				fmt.Printf("    - %s\n", line)
			}
		})
		printEndpoints("Clients", len(node.Clients), func() {
			for _, client := range node.Clients {
				line := fmt.Sprintf("%s @ %s (%s)", client.ID, client.Service, client.Type)
				if client.Disable {
					line += " [disabled]"
				}
				fmt.Printf("    - %s\n", line)
			}
		})
		fmt.Println()
	}

	fmt.Println("Configuration check completed successfully.")
	return 0
}

func printEndpoints(title string, count int, body func()) {
	fmt.Printf("  %s:\n", title)
	if count == 0 {
		fmt.Println("    <none>")
		return
	}
	body()
}

func executeInspect(addr string) error {
	client, err := remote.NewClient(addr)
	if err != nil {
		return err
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := client.Health(ctx); err != nil {
		return err
	}

	g, err := client.Graph(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Participants: %d  Nodes: %d  Readers: %d  Writers: %d\n\n",
		g.Stats.Participants, g.Stats.Nodes, g.Stats.Readers, g.Stats.Writers)

	for _, node := range g.Nodes {
		fmt.Printf("Node %s/%s\n", strings.TrimSuffix(node.Namespace, "/"), node.Name)
		printNames("Subscribed", node.Subscribed)
		printNames("Published", node.Published)
		printNames("Offered", node.Offered)
		printNames("Used", node.Used)
		fmt.Println()
	}

	topics, err := client.Topics(ctx)
	if err != nil {
		return err
	}
	if len(topics) == 0 {
		fmt.Println("No topics discovered.")
		return nil
	}
	fmt.Println("Topics:")
	for _, topic := range topics {
		fmt.Printf("  %s (%s) readers=%d writers=%d\n",
			topic.Name, strings.Join(topic.Types, ", "), topic.Readers, topic.Writers)
	}
	return nil
}

func printNames(title string, entries map[string][]string) {
	fmt.Printf("  %s:\n", title)
	if len(entries) == 0 {
		fmt.Println("    <none>")
		return
	}
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("    - %s (%s)\n", name, strings.Join(entries[name], ", "))
	}
}
