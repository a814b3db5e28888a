package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"chainquery/internal/engine"
	"chainquery/internal/iterator"
)

func main() {
	app := &cli.App{
		Name:  "chainquery-cli",
		Usage: "query a Bitcoin node's data directory without a running node",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "datadir", Aliases: []string{"d"}, Required: true, Usage: "node data directory"},
			&cli.BoolFlag{Name: "tx-index", Value: true, Usage: "attempt to open the tx index"},
			&cli.StringFlag{Name: "network", Usage: "override network detection (mainnet, testnet3, signet, regtest)"},
		},
		Commands: []*cli.Command{
			blockCommand(),
			txCommand(),
			headerCommand(),
			iterateCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "chainquery-cli:", err)
		os.Exit(1)
	}
}

func openEngine(c *cli.Context) (*engine.Engine, error) {
	return engine.Open(engine.Options{
		DataDir:         c.String("datadir"),
		TxIndex:         c.Bool("tx-index"),
		NetworkOverride: c.String("network"),
		WorkerPoolSize:  iterator.DefaultWorkerPoolSize,
		Logger:          zap.NewNop(),
	})
}

func blockCommand() *cli.Command {
	return &cli.Command{
		Name:      "block",
		Usage:     "fetch a block by height or hash",
		ArgsUsage: "<height|hash>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "full"},
			&cli.BoolFlag{Name: "connected"},
		},
		Action: func(c *cli.Context) error {
			e, err := openEngine(c)
			if err != nil {
				return err
			}
			defer e.Close()

			height, err := resolveHeight(e, c.Args().First())
			if err != nil {
				return err
			}
			blk, err := e.GetBlock(height, !c.Bool("full"), c.Bool("connected"))
			if err != nil {
				return err
			}
			return printJSON(blk)
		},
	}
}

func txCommand() *cli.Command {
	return &cli.Command{
		Name:      "tx",
		Usage:     "fetch a transaction by txid",
		ArgsUsage: "<txid>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "full"},
			&cli.BoolFlag{Name: "connected"},
		},
		Action: func(c *cli.Context) error {
			e, err := openEngine(c)
			if err != nil {
				return err
			}
			defer e.Close()

			tx, err := e.GetTransaction(c.Args().First(), !c.Bool("full"), c.Bool("connected"))
			if err != nil {
				return err
			}
			return printJSON(tx)
		},
	}
}

func headerCommand() *cli.Command {
	return &cli.Command{
		Name:      "header",
		Usage:     "fetch a block header by height",
		ArgsUsage: "<height>",
		Action: func(c *cli.Context) error {
			e, err := openEngine(c)
			if err != nil {
				return err
			}
			defer e.Close()

			height, err := resolveHeight(e, c.Args().First())
			if err != nil {
				return err
			}
			hdr, txCount, err := e.GetBlockHeader(height)
			if err != nil {
				return err
			}
			return printJSON(struct {
				Header  interface{} `json:"header"`
				TxCount int         `json:"tx_count"`
			}{hdr, txCount})
		},
	}
}

func iterateCommand() *cli.Command {
	return &cli.Command{
		Name:      "iterate",
		Usage:     "stream blocks [start, stop) to stdout as newline-delimited JSON",
		ArgsUsage: "<start> <stop>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "full"},
			&cli.BoolFlag{Name: "connected"},
			&cli.IntFlag{Name: "workers", Value: iterator.DefaultWorkerPoolSize},
		},
		Action: func(c *cli.Context) error {
			e, err := openEngine(c)
			if err != nil {
				return err
			}
			defer e.Close()

			start, err := strconv.ParseInt(c.Args().Get(0), 10, 64)
			if err != nil {
				return fmt.Errorf("invalid start: %w", err)
			}
			stop, err := strconv.ParseInt(c.Args().Get(1), 10, 64)
			if err != nil {
				return fmt.Errorf("invalid stop: %w", err)
			}

			it := e.NewIterator(c.Int("workers"), zap.NewNop())
			enc := json.NewEncoder(os.Stdout)
			for res := range it.IterByRange(context.Background(), start, stop, !c.Bool("full"), c.Bool("connected")) {
				if res.Err != nil {
					return res.Err
				}
				if err := enc.Encode(res.Block); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func resolveHeight(e *engine.Engine, arg string) (int64, error) {
	if h, err := strconv.ParseInt(arg, 10, 64); err == nil {
		return h, nil
	}
	return e.GetHeightFromHash(strings.TrimSpace(arg))
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
