package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"stratlab/internal/config"
	"stratlab/internal/dashboard"
	"stratlab/internal/tradeparams"
	"stratlab/internal/util"
	"stratlab/pkg/stratlab"
)

const version = "0.1.0"

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: stratlab-cli <command> [options]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  version                       Print the CLI version\n")
	fmt.Fprintf(os.Stderr, "  strategies                    List strategies registered on the server\n")
	fmt.Fprintf(os.Stderr, "  run <strategy-id> [options]   Run a backtest on the server\n")
	fmt.Fprintf(os.Stderr, "  runs [options]                List stored runs\n")
	fmt.Fprintf(os.Stderr, "  params [set|rm] ...           Show or edit local param overrides\n")
	fmt.Fprintf(os.Stderr, "\n")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cfg, err := config.LoadOrDefault(config.PathFromEnv("config/stratlab.yaml"))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	defaultAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.GRPCPort)

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "version":
		fmt.Printf("stratlab-cli %s\n", version)

	case "strategies":
		fs := flag.NewFlagSet("strategies", flag.ExitOnError)
		addr := fs.String("addr", defaultAddr, "server gRPC address")
		fs.Parse(args)
		withClient(*addr, listStrategies)

	case "run":
		fs := flag.NewFlagSet("run", flag.ExitOnError)
		addr := fs.String("addr", defaultAddr, "server gRPC address")
		days := fs.Int("days", 0, "trading days (server default when 0)")
		capital := fs.Float64("capital", 0, "initial capital (server default when 0)")
		symbol := fs.String("symbol", "", "override the strategy's symbol")
		save := fs.Bool("save", false, "record the run on the server")
		var id string
		if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
			id, args = args[0], args[1:]
		}
		fs.Parse(args)
		if id == "" {
			id = fs.Arg(0)
		}
		if id == "" {
			fmt.Fprintln(os.Stderr, "run: strategy id required")
			os.Exit(1)
		}
		req := stratlab.RunRequest{StrategyID: id, Days: *days, InitialCapital: *capital, Symbol: *symbol, Save: *save}
		code := 1
		withClient(*addr, func(ctx context.Context, c *stratlab.Client) error {
			rep, err := c.RunBacktest(ctx, req)
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(rep, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			if rep.Accepted() {
				code = 0
			}
			return nil
		})
		os.Exit(code)

	case "runs":
		fs := flag.NewFlagSet("runs", flag.ExitOnError)
		addr := fs.String("addr", defaultAddr, "server gRPC address")
		strategyID := fs.String("strategy", "", "only runs of this strategy")
		limit := fs.Int("limit", 20, "maximum rows")
		fs.Parse(args)
		withClient(*addr, func(ctx context.Context, c *stratlab.Client) error {
			return listRuns(ctx, c, *strategyID, *limit)
		})

	case "params":
		if err := editParams(cfg.Storage.ParamsPath, args); err != nil {
			fmt.Fprintf(os.Stderr, "params: %v\n", err)
			os.Exit(1)
		}

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func withClient(addr string, fn func(context.Context, *stratlab.Client) error) {
	c, err := stratlab.Dial(addr)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	if err := fn(ctx, c); err != nil {
		log.Fatalf("%v", err)
	}
}

func listStrategies(ctx context.Context, c *stratlab.Client) error {
	list, err := c.ListStrategies(ctx)
	if err != nil {
		return err
	}
	for _, s := range list {
		fmt.Printf("%-30s %-8s %-22s %-10s %s\n", s.ID, s.Version, s.Archetype, s.AssetClass, string(s.Symbols))
	}
	return nil
}

func listRuns(ctx context.Context, c *stratlab.Client, strategyID string, limit int) error {
	runs, err := c.ListRuns(ctx, strategyID, limit)
	if err != nil {
		return err
	}
	for _, r := range runs {
		fmt.Printf("%s  %-20s  %-28s %-6s %-10s return %8s  sharpe %6.2f  trades %4d\n",
			r.ID, r.CreatedAt, r.StrategyID, r.Symbol, r.Status,
			dashboard.FormatPct(r.TotalReturn), r.SharpeRatio, r.TotalTrades)
	}
	return nil
}

// editParams handles "params", "params set <strategy> <key> <value>" and
// "params rm <strategy> <key>" against the local overrides file.
func editParams(path string, args []string) error {
	s, err := tradeparams.NewStore(path, util.Discard())
	if err != nil {
		return err
	}
	if len(args) == 0 {
		snap := s.Snapshot()
		for _, id := range s.Strategies() {
			keys := make([]string, 0, len(snap[id]))
			for k := range snap[id] {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Printf("%-30s %-24s %g\n", id, k, snap[id][k])
			}
		}
		return nil
	}

	switch args[0] {
	case "set":
		if len(args) != 4 {
			return fmt.Errorf("usage: params set <strategy> <key> <value>")
		}
		v, err := strconv.ParseFloat(args[3], 64)
		if err != nil {
			return fmt.Errorf("parsing value %q: %w", args[3], err)
		}
		return s.Set(args[1], args[2], v)
	case "rm":
		if len(args) != 3 {
			return fmt.Errorf("usage: params rm <strategy> <key>")
		}
		return s.Delete(args[1], args[2])
	}
	return fmt.Errorf("unknown params command %q", args[0])
}
