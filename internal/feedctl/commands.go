package feedctl

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/feedkeeper/internal/client"
	"github.com/dmitrijs2005/feedkeeper/internal/common"
	"github.com/dmitrijs2005/feedkeeper/internal/server"
	"github.com/dmitrijs2005/feedkeeper/internal/server/auth"
	"github.com/dmitrijs2005/feedkeeper/internal/server/models"
	"github.com/spf13/cobra"
)

const timeFormat = time.RFC3339Nano

func (a *app) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply metadata schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withBackend(cmd.Context(), func(b *server.Backend) error {
				return a.print(map[string]any{"migrated": true})
			})
		},
	}
}

func (a *app) tokenCmd() *cobra.Command {
	var author string
	var validity time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an access token for an author",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.loadConfig()
			if err != nil {
				return err
			}
			if validity <= 0 {
				validity = c.AccessTokenValidityDuration
			}
			token, err := auth.GenerateToken(author, []byte(c.SecretKey), validity)
			if err != nil {
				return err
			}
			return a.print(map[string]any{"author": author, "access_token": token})
		},
	}

	cmd.Flags().StringVar(&author, "author", "", "author the token is issued to")
	cmd.Flags().DurationVar(&validity, "validity", 0, "token lifetime (defaults to the configured value)")
	_ = cmd.MarkFlagRequired("author")
	return cmd
}

type pageFlags struct {
	start          int64
	end            int64
	max            int
	query          string
	excludeDeleted bool
}

func (p *pageFlags) register(cmd *cobra.Command) {
	cmd.Flags().Int64Var(&p.start, "start", 0, "return entries after this sequence")
	cmd.Flags().Int64Var(&p.end, "end", 0, "return entries up to this sequence")
	cmd.Flags().IntVar(&p.max, "max", 0, "maximum page size")
	cmd.Flags().StringVar(&p.query, "query", "", "category query, e.g. \"{urn:color}red -blue\"")
	cmd.Flags().BoolVar(&p.excludeDeleted, "exclude-deleted", false, "skip deleted entries")
}

func (p *pageFlags) request(cmd *cobra.Command) models.FeedRequest {
	req := models.FeedRequest{
		StartIndex:     p.start,
		MaxResults:     p.max,
		Query:          p.query,
		ExcludeDeleted: p.excludeDeleted,
	}
	if cmd.Flags().Changed("end") {
		end := p.end
		req.EndIndex = &end
	}
	return req
}

func (a *app) feedCmd() *cobra.Command {
	var p pageFlags

	cmd := &cobra.Command{
		Use:   "feed <workspace> <collection>",
		Short: "Print one page of a collection feed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := p.request(cmd)
			req.Workspace, req.Collection = args[0], args[1]

			return a.withBackend(cmd.Context(), func(b *server.Backend) error {
				page, err := b.Feeds.Entries(cmd.Context(), req)
				if errors.Is(err, common.ErrNotModified) {
					return a.print(map[string]any{"entries": []entryView{}, "end_index": fmt.Sprint(req.StartIndex)})
				}
				if err != nil {
					return err
				}
				out := make([]entryView, 0, len(page.Entries))
				for _, r := range page.Entries {
					out = append(out, viewEntry(r))
				}
				return a.print(map[string]any{"entries": out, "end_index": fmt.Sprint(page.EndIndex)})
			})
		},
	}

	p.register(cmd)
	return cmd
}

func (a *app) aggregateFeedCmd() *cobra.Command {
	var p pageFlags
	var workspaces []string

	cmd := &cobra.Command{
		Use:   "aggregate-feed <join>",
		Short: "Print one page of an aggregate feed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := p.request(cmd)
			req.Join = args[0]
			req.JoinWorkspaces = workspaces

			return a.withBackend(cmd.Context(), func(b *server.Backend) error {
				page, err := b.Feeds.Aggregates(cmd.Context(), req)
				if errors.Is(err, common.ErrNotModified) {
					return a.print(map[string]any{"aggregates": []aggregateView{}, "end_index": fmt.Sprint(req.StartIndex)})
				}
				if err != nil {
					return err
				}
				out := make([]aggregateView, 0, len(page.Aggregates))
				for _, g := range page.Aggregates {
					out = append(out, viewAggregate(g))
				}
				return a.print(map[string]any{"aggregates": out, "end_index": fmt.Sprint(page.EndIndex)})
			})
		},
	}

	p.register(cmd)
	cmd.Flags().StringSliceVar(&workspaces, "workspaces", nil, "restrict the join to these member workspaces")
	return cmd
}

func (a *app) rebuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild <join>",
		Short: "Recompute every aggregate of a join",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withBackend(cmd.Context(), func(b *server.Backend) error {
				n, err := b.Aggregates.Rebuild(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return a.print(map[string]any{"join": args[0], "aggregates": n})
			})
		},
	}
}

func (a *app) obliterateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "obliterate <workspace> <collection> <entry-id> [locale]",
		Short: "Remove an entry and its content for good",
		Args:  cobra.RangeArgs(3, 4),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := models.EntryIdentity{Workspace: args[0], Collection: args[1], EntryID: args[2]}
			if len(args) == 4 {
				id.Locale = args[3]
			}
			return a.withBackend(cmd.Context(), func(b *server.Backend) error {
				if err := b.Entries.Obliterate(cmd.Context(), id); err != nil {
					return err
				}
				return a.print(map[string]any{"obliterated": id})
			})
		},
	}
}

// dialTarget turns a bind address such as ":50051" into one a client can
// dial.
func dialTarget(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "localhost" + addr
	}
	return addr
}

func (a *app) getCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "get <workspace> <collection> <entry-id> [locale]",
		Short: "Fetch an entry and its content from a running server",
		Args:  cobra.RangeArgs(3, 4),
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				c, err := a.loadConfig()
				if err != nil {
					return err
				}
				addr = c.EndpointAddrGRPC
			}

			cl, err := client.New(dialTarget(addr))
			if err != nil {
				return err
			}
			defer cl.Close()

			req := map[string]any{"workspace": args[0], "collection": args[1], "entry_id": args[2]}
			if len(args) == 4 {
				req["locale"] = args[3]
			}
			out, err := cl.GetEntry(cmd.Context(), req)
			if err != nil {
				return err
			}
			return a.print(out)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "server address (defaults to the configured gRPC address)")
	return cmd
}
