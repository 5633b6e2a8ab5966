// blobctl drives an explorer over a configured gateway from the command
// line.
//
// Usage:
//
//	blobctl ls                      List logical files
//	blobctl tree                    Show the directory tree
//	blobctl cat PATH                Print file content
//	blobctl write PATH [CONTENT|-]  Create or overwrite a file (stdin with -)
//	blobctl mkdir PATH              Create a directory marker
//	blobctl rm PATH                 Delete a file or a directory subtree
//	blobctl rm-all --yes            Delete everything
//	blobctl validate PATH           Check a pathname
//	blobctl token --subject NAME    Issue a JWT for the explorer API
//
// The gateway is configured from the environment (see the server) and the
// --gateway, --local-path, --remote-url, --remote-token and --timeout flags.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/fruitsalade/blobtext/internal/auth"
	"github.com/fruitsalade/blobtext/internal/config"
	"github.com/fruitsalade/blobtext/internal/explorer"
	"github.com/fruitsalade/blobtext/internal/gateway"
	"github.com/fruitsalade/blobtext/internal/logging"
	"github.com/fruitsalade/blobtext/pkg/models"
	"github.com/fruitsalade/blobtext/pkg/pathname"
	"github.com/fruitsalade/blobtext/pkg/tree"
)

const usage = `Usage: blobctl <command> [flags] [args]

Commands:
  ls                      List logical files
  tree                    Show the directory tree
  cat PATH                Print file content
  write PATH [CONTENT|-]  Create or overwrite a file
  mkdir PATH              Create a directory
  rm PATH                 Delete a file or directory subtree
  rm-all --yes            Delete every entry
  validate PATH           Check a pathname
  token --subject NAME    Issue an API token
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// cli carries the streams of one invocation.
type cli struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}
	c := &cli{stdin: stdin, stdout: stdout, stderr: stderr}

	var err error
	switch args[0] {
	case "ls":
		err = c.cmdList(args[1:])
	case "tree":
		err = c.cmdTree(args[1:])
	case "cat":
		err = c.cmdCat(args[1:])
	case "write":
		err = c.cmdWrite(args[1:])
	case "mkdir":
		err = c.cmdMkdir(args[1:])
	case "rm":
		err = c.cmdRemove(args[1:])
	case "rm-all":
		err = c.cmdRemoveAll(args[1:])
	case "validate":
		err = c.cmdValidate(args[1:])
	case "token":
		err = c.cmdToken(args[1:])
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n\n%s", args[0], usage)
		return 2
	}

	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		var ve *explorer.ValidationError
		if errors.As(err, &ve) {
			fmt.Fprintf(stderr, "Invalid path: %s\n", ve.Result.Error)
			return 1
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// ─── Gateway setup ──────────────────────────────────────────────────────────

type gatewayFlags struct {
	backend     string
	localPath   string
	remoteURL   string
	remoteToken string
	timeout     time.Duration
	verbose     bool
}

func newFlagSet(name string, out io.Writer) (*pflag.FlagSet, *gatewayFlags) {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(out)
	g := &gatewayFlags{}
	fs.StringVar(&g.backend, "gateway", "", "Gateway backend (memory, local, s3, postgres, remote)")
	fs.StringVar(&g.localPath, "local-path", "", "Root directory of the local gateway")
	fs.StringVar(&g.remoteURL, "remote-url", "", "Blob API base URL of the remote gateway")
	fs.StringVar(&g.remoteToken, "remote-token", "", "Bearer token for the remote gateway")
	fs.DurationVar(&g.timeout, "timeout", 0, "Per-call gateway timeout")
	fs.BoolVarP(&g.verbose, "verbose", "v", false, "Log gateway calls to stderr")
	return fs, g
}

// open builds the explorer for a command and loads the listing.
func (c *cli) open(ctx context.Context, g *gatewayFlags) (*explorer.Explorer, func(), error) {
	level := "warn"
	if g.verbose {
		level = "debug"
	}
	if err := logging.Init(logging.Config{Level: level, Format: "console", OutputPath: "stderr"}); err != nil {
		return nil, nil, fmt.Errorf("init logging: %w", err)
	}

	cfg, err := config.Read()
	if err != nil {
		return nil, nil, err
	}
	if g.backend != "" {
		cfg.Gateway = strings.ToLower(g.backend)
	}
	if g.localPath != "" {
		cfg.LocalStoragePath = g.localPath
	}
	if g.remoteURL != "" {
		cfg.RemoteBlobURL = g.remoteURL
	}
	if g.remoteToken != "" {
		cfg.RemoteBlobToken = g.remoteToken
	}
	if g.timeout > 0 {
		cfg.GatewayTimeout = g.timeout
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	gw, err := gateway.New(ctx, cfg.GatewayConfig())
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		gw.Close()
		logging.Sync()
	}

	ex := explorer.New(gw, explorer.WithPruneStale(cfg.PruneStale))
	if err := ex.Fetch(ctx); err != nil {
		closeFn()
		return nil, nil, err
	}
	return ex, closeFn, nil
}

func (c *cli) setup(name string, args []string, nargs int, register func(fs *pflag.FlagSet)) (*explorer.Explorer, []string, func(), error) {
	fs, g := newFlagSet(name, c.stderr)
	if register != nil {
		register(fs)
	}
	if err := fs.Parse(args); err != nil {
		return nil, nil, nil, err
	}
	if fs.NArg() < nargs {
		return nil, nil, nil, fmt.Errorf("usage: blobctl %s requires %d argument(s)", name, nargs)
	}
	ex, closeFn, err := c.open(context.Background(), g)
	if err != nil {
		return nil, nil, nil, err
	}
	return ex, fs.Args(), closeFn, nil
}

// ─── Commands ───────────────────────────────────────────────────────────────

func (c *cli) cmdList(args []string) error {
	var asJSON bool
	ex, _, done, err := c.setup("ls", args, 0, func(fs *pflag.FlagSet) {
		fs.BoolVar(&asJSON, "json", false, "Print JSON")
	})
	if err != nil {
		return err
	}
	defer done()

	files := ex.Files()
	if asJSON {
		enc := json.NewEncoder(c.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(files)
	}
	for _, f := range files {
		kind := "file"
		if f.IsDirectory {
			kind = "dir "
		}
		fmt.Fprintf(c.stdout, "%s %8d  %s  %s\n", kind, f.Size, f.UploadedAt.Format(time.RFC3339), f.Pathname)
	}
	return nil
}

func (c *cli) cmdTree(args []string) error {
	ex, _, done, err := c.setup("tree", args, 0, nil)
	if err != nil {
		return err
	}
	defer done()

	nodes := ex.Tree()
	tree.Walk(nodes, func(n models.Node, depth int) bool {
		name := n.NodeName()
		if tree.IsDir(n) {
			name += "/"
		}
		fmt.Fprintf(c.stdout, "%s%s\n", strings.Repeat("  ", depth), name)
		return true
	})
	fmt.Fprintf(c.stdout, "\n%d entries\n", tree.CountNodes(nodes))
	return nil
}

func (c *cli) cmdCat(args []string) error {
	ex, rest, done, err := c.setup("cat", args, 1, nil)
	if err != nil {
		return err
	}
	defer done()

	file, ok := ex.Lookup(rest[0])
	if !ok {
		return fmt.Errorf("%w: %s", explorer.ErrNotFound, rest[0])
	}
	if file.IsDirectory {
		return fmt.Errorf("%s is a directory", rest[0])
	}
	ex.Select(context.Background(), &file)
	content := ex.Content()
	if content == explorer.ContentLoadError {
		return errors.New(content)
	}
	fmt.Fprint(c.stdout, content)
	return nil
}

func (c *cli) cmdWrite(args []string) error {
	ex, rest, done, err := c.setup("write", args, 1, nil)
	if err != nil {
		return err
	}
	defer done()

	p := rest[0]
	var content string
	if len(rest) > 1 && rest[1] != "-" {
		content = strings.Join(rest[1:], " ")
	} else {
		data, err := io.ReadAll(c.stdin)
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		content = string(data)
	}

	_, editing := ex.Lookup(p)
	file, err := ex.Save(context.Background(), p, content, editing)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "%s (%d bytes) %s\n", file.Pathname, file.Size, file.URL)
	return nil
}

func (c *cli) cmdMkdir(args []string) error {
	var parents bool
	ex, rest, done, err := c.setup("mkdir", args, 1, func(fs *pflag.FlagSet) {
		fs.BoolVarP(&parents, "parents", "p", false, "Create missing parent directories")
	})
	if err != nil {
		return err
	}
	defer done()

	target := pathname.TrimDir(rest[0]) + "/"
	dirs := []string{target}
	if parents {
		dirs = dirs[:0]
		prefix := ""
		for _, seg := range pathname.Segments(target) {
			prefix += seg + "/"
			if _, ok := ex.Lookup(prefix); !ok {
				dirs = append(dirs, prefix)
			}
		}
	}

	for _, d := range dirs {
		file, err := ex.Save(context.Background(), d, "", false)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.stdout, "%s\n", file.Pathname)
	}
	return nil
}

func (c *cli) cmdRemove(args []string) error {
	ex, rest, done, err := c.setup("rm", args, 1, nil)
	if err != nil {
		return err
	}
	defer done()

	p := rest[0]
	file, ok := ex.Lookup(p)
	if !ok && !pathname.IsDir(p) {
		file, ok = ex.Lookup(p + "/")
	}
	if !ok {
		return fmt.Errorf("%w: %s", explorer.ErrNotFound, p)
	}

	before := len(ex.Files())
	if err := ex.Delete(context.Background(), file); err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "removed %d entries\n", before-len(ex.Files()))
	return nil
}

func (c *cli) cmdRemoveAll(args []string) error {
	var yes bool
	ex, _, done, err := c.setup("rm-all", args, 0, func(fs *pflag.FlagSet) {
		fs.BoolVar(&yes, "yes", false, "Confirm deleting every entry")
	})
	if err != nil {
		return err
	}
	defer done()

	if !yes {
		return errors.New("refusing to delete everything without --yes")
	}
	n := len(ex.Files())
	if err := ex.DeleteAll(context.Background()); err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "removed %d entries\n", n)
	return nil
}

func (c *cli) cmdValidate(args []string) error {
	var editing bool
	ex, rest, done, err := c.setup("validate", args, 1, func(fs *pflag.FlagSet) {
		fs.BoolVar(&editing, "editing", false, "Validate for an in-place edit")
	})
	if err != nil {
		return err
	}
	defer done()

	result := ex.Validate(rest[0], editing)
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.stdout, string(data))
	if !result.IsValid {
		return &explorer.ValidationError{Result: result}
	}
	return nil
}

func (c *cli) cmdToken(args []string) error {
	fs := pflag.NewFlagSet("token", pflag.ContinueOnError)
	fs.SetOutput(c.stderr)
	subject := fs.String("subject", "", "Token subject (required)")
	ttl := fs.Duration("ttl", auth.DefaultTTL, "Token lifetime")
	readOnly := fs.Bool("read-only", false, "Limit the token to GET requests")
	secret := fs.String("secret", "", "Signing secret (default: JWT_SECRET)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *secret == "" {
		cfg, err := config.Read()
		if err != nil {
			return err
		}
		*secret = cfg.JWTSecret
	}
	if *secret == "" {
		return errors.New("JWT_SECRET or --secret is required")
	}

	token, expires, err := auth.New(*secret).IssueToken(*subject, *ttl, *readOnly)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.stdout, token)
	fmt.Fprintf(c.stderr, "expires %s\n", expires.Format(time.RFC3339))
	return nil
}
