// Command cairn is a thin collaborator around the storage engine: a
// handful of one-shot subcommands plus a line-oriented REPL. Neither
// surface is part of the engine's tested contract (package db).
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"

	"github.com/cairnkv/cairn/db"
)

// ErrInvalidInput marks a REPL line that could not be parsed: an unknown
// command token, or one missing its key/value, per spec §6/§7.
var ErrInvalidInput = errors.New("invalid input")

func main() {
	var store *db.DB

	app := &cli.Command{
		Name:  "cairn",
		Usage: "an embedded, single-writer LSM key-value store",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "dir", Aliases: []string{"d"}, Value: "data", Usage: "root directory (wal/ and sstable/ live here)"},
			&cli.BoolFlag{Name: "sync", Value: true, Usage: "fsync the WAL on every write"},
			&cli.IntFlag{Name: "memtable-size", Value: 128_000, Usage: "entries held before a flush"},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			opts := db.DefaultOptions()
			opts.Dir = c.String("dir")
			opts.SyncOnWrite = c.Bool("sync")
			opts.MemtableSize = int(c.Int("memtable-size"))
			opened, err := db.Open(opts)
			if err != nil {
				return ctx, fmt.Errorf("opening db at %q: %w", opts.Dir, err)
			}
			store = opened
			return ctx, nil
		},
		After: func(ctx context.Context, c *cli.Command) error {
			if store == nil {
				return nil
			}
			return store.Close()
		},
		Commands: []*cli.Command{
			{
				Name:      "get",
				Usage:     "print the value for a key",
				ArgsUsage: "<key>",
				Action: func(ctx context.Context, c *cli.Command) error {
					key := c.Args().First()
					if key == "" {
						return fmt.Errorf("%w: get requires a key", ErrInvalidInput)
					}
					value, ok, err := store.Get([]byte(key))
					if err != nil {
						return err
					}
					if !ok {
						fmt.Println("(not found)")
						return nil
					}
					fmt.Println(string(value))
					return nil
				},
			},
			{
				Name:      "set",
				Usage:     "store a value for a key",
				ArgsUsage: "<key> <value>",
				Action: func(ctx context.Context, c *cli.Command) error {
					if c.Args().Len() < 2 {
						return fmt.Errorf("%w: set requires a key and a value", ErrInvalidInput)
					}
					key, value := c.Args().Get(0), c.Args().Get(1)
					if err := store.Set([]byte(key), []byte(value)); err != nil {
						return err
					}
					fmt.Println("ok")
					return nil
				},
			},
			{
				Name:      "delete",
				Usage:     "remove a key",
				ArgsUsage: "<key>",
				Action: func(ctx context.Context, c *cli.Command) error {
					key := c.Args().First()
					if key == "" {
						return fmt.Errorf("%w: delete requires a key", ErrInvalidInput)
					}
					if err := store.Delete([]byte(key)); err != nil {
						return err
					}
					fmt.Println("ok")
					return nil
				},
			},
			{
				Name:      "compact",
				Usage:     "merge every sstable at a level into the next",
				ArgsUsage: "<level>",
				Action: func(ctx context.Context, c *cli.Command) error {
					raw := c.Args().First()
					if raw == "" {
						return fmt.Errorf("%w: compact requires a level", ErrInvalidInput)
					}
					level, err := strconv.Atoi(raw)
					if err != nil {
						return fmt.Errorf("%w: level must be an integer: %v", ErrInvalidInput, err)
					}
					if err := store.Compact(level); err != nil {
						return err
					}
					fmt.Println("ok")
					return nil
				},
			},
			{
				Name:  "repl",
				Usage: "read set/get commands from stdin until EOF",
				Action: func(ctx context.Context, c *cli.Command) error {
					runREPL(store, os.Stdin, os.Stdout, os.Stderr)
					return nil
				},
			},
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// runREPL reads one command per line until EOF. Each line is lowercased
// and split on whitespace before its first token is matched, mirroring
// the original CLI's parse order exactly. A line that fails to parse
// prints ErrInvalidInput to stderr and the loop continues — a bad line
// never kills the session.
func runREPL(store *db.DB, in *os.File, out, errOut *os.File) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		cmd, key, value, err := parseREPLLine(scanner.Text())
		if err != nil {
			fmt.Fprintln(errOut, err)
			continue
		}
		switch cmd {
		case "set":
			if err := store.Set([]byte(key), []byte(value)); err != nil {
				fmt.Fprintln(errOut, err)
				continue
			}
			fmt.Fprintf(out, "ok\n")
		case "get":
			v, ok, err := store.Get([]byte(key))
			if err != nil {
				fmt.Fprintln(errOut, err)
				continue
			}
			if !ok {
				fmt.Fprintf(out, "could not find key:%s\n", key)
				continue
			}
			fmt.Fprintf(out, "key:%s  value:%s\n", key, string(v))
		}
	}
	if err := scanner.Err(); err != nil {
		logrus.WithError(err).Error("cairn: repl: reading stdin failed")
	}
}

// parseREPLLine implements spec §6's exact grammar: lowercase the whole
// line, split on whitespace, match the first token case-insensitively.
// set requires a key and a value; get requires a key (a trailing value
// token, if present, is ignored, matching the original parser).
func parseREPLLine(line string) (cmdName, key, value string, err error) {
	fields := strings.Fields(strings.ToLower(line))
	var token string
	if len(fields) > 0 {
		token = fields[0]
	}
	switch token {
	case "set":
		if len(fields) < 3 {
			return "", "", "", fmt.Errorf("%w: could not parse input", ErrInvalidInput)
		}
		return "set", fields[1], fields[2], nil
	case "get":
		if len(fields) < 2 {
			return "", "", "", fmt.Errorf("%w: could not parse input", ErrInvalidInput)
		}
		v := ""
		if len(fields) >= 3 {
			v = fields[2]
		}
		return "get", fields[1], v, nil
	default:
		return "", "", "", fmt.Errorf("%w: could not parse command, expected 'set' or 'get' but got %q", ErrInvalidInput, token)
	}
}
