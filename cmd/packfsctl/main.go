// Command packfsctl manipulates a packfs archive from the shell: put, get,
// list, find, delete, force a compaction, or bulk-import a directory tree.
package main

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"packfs/internal/config"
	"packfs/internal/gzipstore"
	"packfs/internal/store"
)

func main() {
	app := &cli.App{
		Name:  "packfsctl",
		Usage: "manage a single-file packfs archive",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "YAML config file"},
			&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "archive file path"},
			&cli.StringFlag{Name: "cleanup", Usage: "cleanup strategy: never, always, check-count, check-size"},
			&cli.Float64Flag{Name: "fill-rate", Value: -1, Usage: "cleanup fill rate in [0, 1]"},
			&cli.BoolFlag{Name: "gzip", Usage: "transparently gzip payloads"},
			&cli.StringFlag{Name: "log-level", Usage: "trace, debug, info, warn, error"},
		},
		Commands: []*cli.Command{
			putCommand(),
			getCommand(),
			removeCommand(),
			listCommand(),
			findCommand(),
			statCommand(),
			compactCommand(),
			packCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}

// resolveConfig merges the config file with command-line overrides.
func resolveConfig(c *cli.Context) (config.Config, error) {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}
	if c.IsSet("file") {
		cfg.File = c.String("file")
	}
	if c.IsSet("cleanup") {
		cfg.Cleanup = c.String("cleanup")
	}
	if c.IsSet("fill-rate") {
		cfg.FillRate = c.Float64("fill-rate")
	}
	if c.IsSet("gzip") {
		cfg.Gzip = c.Bool("gzip")
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}
	cfg.Normalize()
	return cfg, nil
}

// openArchive opens the configured archive, optionally wrapped with gzip.
func openArchive(c *cli.Context) (store.FS, error) {
	cfg, err := resolveConfig(c)
	if err != nil {
		return nil, err
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, errors.Wrapf(err, "log level %q", cfg.LogLevel)
	}
	logrus.SetLevel(level)

	strategy, err := store.ParseCleanupStrategy(cfg.Cleanup)
	if err != nil {
		return nil, err
	}
	s, err := store.Open(cfg.File, store.WithCleanup(strategy, cfg.FillRate))
	if err != nil {
		return nil, err
	}
	if cfg.Gzip {
		return gzipstore.New(s), nil
	}
	return s, nil
}

func putCommand() *cli.Command {
	return &cli.Command{
		Name:      "put",
		Usage:     "store a file (or stdin) under a path",
		ArgsUsage: "<path> [local-file]",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "if-absent", Usage: "fail instead of overwriting an existing path"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return errors.New("usage: put <path> [local-file]")
			}
			archive, err := openArchive(c)
			if err != nil {
				return err
			}
			defer archive.Close()

			var src io.Reader = os.Stdin
			if c.NArg() > 1 {
				f, err := os.Open(c.Args().Get(1))
				if err != nil {
					return errors.Wrap(err, "open input")
				}
				defer f.Close()
				src = f
			}

			w, err := archive.OpenWriter(c.Args().First(), !c.Bool("if-absent"))
			if err != nil {
				return err
			}
			if _, err := io.Copy(w, src); err != nil {
				_ = w.Close()
				return err
			}
			return w.Close()
		},
	}
}

func getCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "print an object's payload to stdout",
		ArgsUsage: "<path>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return errors.New("usage: get <path>")
			}
			archive, err := openArchive(c)
			if err != nil {
				return err
			}
			defer archive.Close()

			r, err := archive.OpenReader(c.Args().First())
			if err != nil {
				return err
			}
			defer r.Close()
			_, err = io.Copy(os.Stdout, r)
			return err
		},
	}
}

func removeCommand() *cli.Command {
	return &cli.Command{
		Name:      "rm",
		Usage:     "delete an object",
		ArgsUsage: "<path>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return errors.New("usage: rm <path>")
			}
			archive, err := openArchive(c)
			if err != nil {
				return err
			}
			defer archive.Close()
			return archive.Delete(c.Args().First())
		},
	}
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:      "ls",
		Usage:     "list objects, optionally under a prefix",
		ArgsUsage: "[prefix]",
		Action: func(c *cli.Context) error {
			archive, err := openArchive(c)
			if err != nil {
				return err
			}
			defer archive.Close()
			for _, p := range archive.List(c.Args().First()) {
				fmt.Println(p)
			}
			return nil
		},
	}
}

func findCommand() *cli.Command {
	return &cli.Command{
		Name:      "find",
		Usage:     "list objects whose path ends with a name",
		ArgsUsage: "<name>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return errors.New("usage: find <name>")
			}
			archive, err := openArchive(c)
			if err != nil {
				return err
			}
			defer archive.Close()
			for _, p := range archive.Find(c.Args().First()) {
				fmt.Println(p)
			}
			return nil
		},
	}
}

func statCommand() *cli.Command {
	return &cli.Command{
		Name:      "stat",
		Usage:     "print an object's stored size",
		ArgsUsage: "<path>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return errors.New("usage: stat <path>")
			}
			cfg, err := resolveConfig(c)
			if err != nil {
				return err
			}
			strategy, err := store.ParseCleanupStrategy(cfg.Cleanup)
			if err != nil {
				return err
			}
			s, err := store.Open(cfg.File, store.WithCleanup(strategy, cfg.FillRate))
			if err != nil {
				return err
			}
			defer s.Close()

			st, err := s.Stat(c.Args().First())
			if err != nil {
				return err
			}
			fmt.Printf("%s\t%d\n", st.Path, st.Size)
			return nil
		},
	}
}

func compactCommand() *cli.Command {
	return &cli.Command{
		Name:  "compact",
		Usage: "rewrite the archive, dropping deleted records",
		Action: func(c *cli.Context) error {
			cfg, err := resolveConfig(c)
			if err != nil {
				return err
			}
			s, err := store.Open(cfg.File)
			if err != nil {
				return err
			}
			defer s.Close()
			return s.Compact()
		},
	}
}

func packCommand() *cli.Command {
	return &cli.Command{
		Name:      "pack",
		Usage:     "import a directory tree into the archive",
		ArgsUsage: "<dir>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "prefix", Usage: "path prefix for imported objects"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return errors.New("usage: pack <dir>")
			}
			root := c.Args().First()
			archive, err := openArchive(c)
			if err != nil {
				return err
			}
			defer archive.Close()

			// Reads run concurrently; the store serializes the writes under
			// its own lock.
			g := new(errgroup.Group)
			g.SetLimit(runtime.NumCPU())
			prefix := c.String("prefix")

			err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if d.IsDir() {
					return nil
				}
				rel, err := filepath.Rel(root, path)
				if err != nil {
					return err
				}
				target := prefix + strings.ReplaceAll(rel, string(filepath.Separator), "/")
				g.Go(func() error {
					data, err := os.ReadFile(path)
					if err != nil {
						return errors.Wrapf(err, "read %s", path)
					}
					return archive.Write(target, data, true)
				})
				return nil
			})
			if err != nil {
				_ = g.Wait()
				return err
			}
			if err := g.Wait(); err != nil {
				return err
			}
			logrus.WithField("dir", root).Info("directory packed")
			return nil
		},
	}
}
