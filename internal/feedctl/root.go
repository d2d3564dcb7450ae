// Package feedctl implements the feedkeeper admin command line. Commands
// work directly on the configured backends, not through the gRPC API.
package feedctl

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/dmitrijs2005/feedkeeper/internal/logging"
	"github.com/dmitrijs2005/feedkeeper/internal/server"
	"github.com/dmitrijs2005/feedkeeper/internal/server/config"
	"github.com/dmitrijs2005/feedkeeper/internal/server/models"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

type app struct {
	configPath string
	out        io.Writer
	logOut     io.Writer
}

// NewRootCmd builds the feedctl command tree writing results to out and
// logs to stderr.
func NewRootCmd(out io.Writer) *cobra.Command {
	a := &app{out: out, logOut: os.Stderr}

	rootCmd := &cobra.Command{
		Use:           "feedctl",
		Short:         "Administer a feedkeeper store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", os.Getenv("FEEDKEEPER_CONFIG"), "path to JSON config file")

	rootCmd.AddCommand(a.migrateCmd())
	rootCmd.AddCommand(a.tokenCmd())
	rootCmd.AddCommand(a.feedCmd())
	rootCmd.AddCommand(a.aggregateFeedCmd())
	rootCmd.AddCommand(a.rebuildCmd())
	rootCmd.AddCommand(a.obliterateCmd())
	rootCmd.AddCommand(a.getCmd())

	return rootCmd
}

func (a *app) loadConfig() (*config.Config, error) {
	return config.LoadFile(a.configPath)
}

// withBackend opens the configured backend, runs fn and closes it.
func (a *app) withBackend(ctx context.Context, fn func(b *server.Backend) error) error {
	c, err := a.loadConfig()
	if err != nil {
		return err
	}
	logger := logging.New("console", c.LogLevel, a.logOut)

	b, err := server.OpenBackend(ctx, c, logger)
	if err != nil {
		return err
	}
	defer b.Close()

	return fn(b)
}

// print writes v as JSON, indented when out is a terminal.
func (a *app) print(v any) error {
	enc := json.NewEncoder(a.out)
	if f, ok := a.out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

type entryView struct {
	Identity      models.EntryIdentity `json:"identity"`
	Revision      int64                `json:"revision"`
	ETag          string               `json:"etag"`
	Deleted       bool                 `json:"deleted"`
	Sequence      string               `json:"sequence"`
	Categories    []models.Category    `json:"categories"`
	Author        string               `json:"author,omitempty"`
	ContentDigest string               `json:"content_digest,omitempty"`
	ContentType   string               `json:"content_type,omitempty"`
	CreatedAt     string               `json:"created_at"`
	UpdatedAt     string               `json:"updated_at"`
}

func viewEntry(r *models.EntryRecord) entryView {
	return entryView{
		Identity:      r.Identity,
		Revision:      r.Revision,
		ETag:          r.ETag(),
		Deleted:       r.Deleted,
		Sequence:      fmt.Sprint(r.Sequence),
		Categories:    r.Categories,
		Author:        r.Author,
		ContentDigest: hex.EncodeToString(r.ContentDigest),
		ContentType:   r.ContentType,
		CreatedAt:     r.CreatedAt.UTC().Format(timeFormat),
		UpdatedAt:     r.UpdatedAt.UTC().Format(timeFormat),
	}
}

type aggregateView struct {
	Join       string                 `json:"join"`
	Key        string                 `json:"key"`
	Members    []models.EntryIdentity `json:"members"`
	Categories []models.Category      `json:"categories"`
	Sequence   string                 `json:"sequence"`
	Deleted    bool                   `json:"deleted"`
	UpdatedAt  string                 `json:"updated_at"`
}

func viewAggregate(g *models.AggregateEntry) aggregateView {
	return aggregateView{
		Join:       g.Join,
		Key:        g.JoinKey,
		Members:    g.Members,
		Categories: g.Categories,
		Sequence:   fmt.Sprint(g.Sequence),
		Deleted:    g.Deleted,
		UpdatedAt:  g.UpdatedAt.UTC().Format(timeFormat),
	}
}
