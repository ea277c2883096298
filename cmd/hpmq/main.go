// Command hpmq builds, pulls, pushes, and runs OCI-style container images
// from a local content-addressed store.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/hpmq/hpmq/lib/build"
	"github.com/hpmq/hpmq/lib/container"
	"github.com/hpmq/hpmq/lib/hpmqlog"
	"github.com/hpmq/hpmq/lib/imageref"
	"github.com/hpmq/hpmq/lib/layout"
	"github.com/hpmq/hpmq/lib/registryclient"
	"github.com/hpmq/hpmq/lib/repositories"
)

func main() {
	cfg := loadConfig()
	logger := hpmqlog.New(hpmqlog.NewConfig())
	slog.SetDefault(logger)

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	store, err := storeFor(cfg)
	if err != nil {
		fatal(err)
	}

	ctx := hpmqlog.AddToContext(context.Background(), logger)
	switch os.Args[1] {
	case "build":
		runBuild(ctx, store, os.Args[2:])
	case "pull":
		runPull(ctx, store, cfg, os.Args[2:])
	case "push":
		runPush(ctx, store, cfg, os.Args[2:])
	case "run":
		runRun(ctx, store, cfg, os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s <command> [arguments]\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "\nCommands:\n")
	fmt.Fprintf(os.Stderr, "  build <recipe.json> <ref>   build an image from a recipe\n")
	fmt.Fprintf(os.Stderr, "  pull <ref>                  fetch an image from a registry\n")
	fmt.Fprintf(os.Stderr, "  push <ref>                  publish an image to a registry\n")
	fmt.Fprintf(os.Stderr, "  run [--force] <ref>         materialize a container's root filesystem\n")
}

func storeFor(cfg *Config) (*layout.Store, error) {
	if cfg.Home != "" {
		return layout.New(cfg.Home), nil
	}
	return layout.Default()
}

func authFromConfig(cfg *Config) registryclient.Auth {
	return registryclient.Auth{Token: cfg.RegistryToken}
}

func loadIndex(store *layout.Store) *repositories.Index {
	idx, err := repositories.Load(store)
	if err != nil {
		fatal(err)
	}
	return idx
}

// recipe is the on-disk JSON shape for `hpmq build`, mapping directly onto
// build.Config.
type recipe struct {
	Kind  string `json:"kind"`
	Copys []struct {
		LocalSrcPath string `json:"localSrcPath"`
		Dest         string `json:"dest"`
	} `json:"copy"`
	Cmd string `json:"cmd"`
}

func runBuild(ctx context.Context, store *layout.Store, args []string) {
	if len(args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: hpmq build <recipe.json> <ref>")
		os.Exit(1)
	}

	raw, err := os.ReadFile(args[0])
	if err != nil {
		fatal(err)
	}
	var r recipe
	if err := json.Unmarshal(raw, &r); err != nil {
		fatal(fmt.Errorf("parse recipe: %w", err))
	}

	cmdDest, err := build.ParseDest(r.Cmd)
	if err != nil {
		fatal(fmt.Errorf("parse cmd dest: %w", err))
	}

	cfg := build.Config{Kind: r.Kind, Cmd: cmdDest}
	for _, c := range r.Copys {
		dest, err := build.ParseDest(c.Dest)
		if err != nil {
			fatal(fmt.Errorf("parse copy dest %q: %w", c.Dest, err))
		}
		cfg.Copys = append(cfg.Copys, build.Copy{LocalSrcPath: c.LocalSrcPath, Dest: dest})
	}

	ref, err := imageref.Parse(args[1])
	if err != nil {
		fatal(err)
	}

	idx := loadIndex(store)
	digest, err := build.Run(ctx, store, idx, cfg, ref)
	if err != nil {
		fatal(err)
	}
	fmt.Println(digest)
}

func runPull(ctx context.Context, store *layout.Store, cfg *Config, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: hpmq pull <ref>")
		os.Exit(1)
	}
	ref, err := imageref.Parse(args[0])
	if err != nil {
		fatal(err)
	}
	idx := loadIndex(store)
	digest, err := registryclient.Pull(ctx, store, idx, ref, authFromConfig(cfg))
	if err != nil {
		fatal(err)
	}
	fmt.Println(digest)
}

func runPush(ctx context.Context, store *layout.Store, cfg *Config, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: hpmq push <ref>")
		os.Exit(1)
	}
	ref, err := imageref.Parse(args[0])
	if err != nil {
		fatal(err)
	}
	idx := loadIndex(store)
	if err := registryclient.Push(ctx, store, idx, ref, authFromConfig(cfg)); err != nil {
		fatal(err)
	}
}

func runRun(ctx context.Context, store *layout.Store, cfg *Config, args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	force := fs.Bool("force", false, "re-materialize even if the container directory already exists")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: hpmq run [OPTIONS] <ref>")
		fmt.Fprintln(os.Stderr, "\nOptions:")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if fs.NArg() != 1 {
		fs.Usage()
		os.Exit(1)
	}

	ref, err := imageref.Parse(fs.Arg(0))
	if err != nil {
		fatal(err)
	}
	idx := loadIndex(store)
	dir, err := container.Initialize(ctx, store, idx, ref, *force, authFromConfig(cfg))
	if err != nil {
		fatal(err)
	}
	fmt.Println(dir)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "hpmq:", err)
	os.Exit(1)
}
