package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/maine/goodnews_feed/internal/app"
	"github.com/maine/goodnews_feed/internal/config"
	"github.com/maine/goodnews_feed/internal/formatter"
	"github.com/maine/goodnews_feed/internal/news"
	"github.com/maine/goodnews_feed/internal/scheduler"
	"github.com/maine/goodnews_feed/internal/sources"
)

const version = "0.1.0"

func main() {
	// .env необязателен: переменные могут прийти из окружения
	_ = godotenv.Load()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type globalFlags struct {
	configPath string
	logLevel   string
}

func rootCmd() *cobra.Command {
	g := &globalFlags{}
	cmd := &cobra.Command{
		Use:           "goodnews",
		Short:         "Good-news feed pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&g.configPath, "config", "c", "configs/pipeline.yaml", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	cmd.AddCommand(
		runCmd(g),
		serveCmd(g),
		listCmd(g),
		submitCmd(g),
		saveCmd(g),
		unsaveCmd(g),
		savedCmd(g),
		pruneCmd(g),
		cyclesCmd(g),
		discoverCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "goodnews version %s\n", version)
			},
		},
	)
	return cmd
}

// withRuntime открывает ресурсы на время команды.
func withRuntime(g *globalFlags, fn func(ctx context.Context, rt *runtime) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := openRuntime(g.configPath, g.logLevel)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			rt.logger.Warn("close resources", "error", err)
		}
	}()
	return fn(ctx, rt)
}

func runCmd(g *globalFlags) *cobra.Command {
	var names []string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one pipeline cycle now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(g, func(ctx context.Context, rt *runtime) error {
				p, err := rt.pipeline(ctx, pipelineOptions{sources: names})
				if err != nil {
					return err
				}
				res, err := p.Run(ctx)
				printResult(cmd.OutOrStdout(), res)
				return err
			})
		},
	}
	cmd.Flags().StringSliceVar(&names, "source", nil, "Only poll these sources (repeatable)")
	return cmd
}

func printResult(w io.Writer, res news.CycleResult) {
	if res.CycleID == "" {
		return
	}
	c := res.Counts
	fmt.Fprintf(w, "cycle %s: %s\n", res.CycleID, res.Status)
	fmt.Fprintf(w, "  fetched=%d invalid=%d deduped=%d filtered=%d judged=%d\n",
		c.Fetched, c.Invalid, c.Deduped, c.Filtered, c.Judged)
	fmt.Fprintf(w, "  accepted=%d rejected=%d errored=%d deferred=%d failed_writes=%d\n",
		res.Accepted, res.Rejected, res.Errored, res.Deferred, c.FailedWrites)
	for _, e := range res.Errors {
		fmt.Fprintf(w, "  error: %s\n", e)
	}
}

func serveCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run cycles on the configured cron schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(g, func(ctx context.Context, rt *runtime) error {
				p, err := rt.pipeline(ctx, pipelineOptions{withRuntime: true})
				if err != nil {
					return err
				}

				var srv *http.Server
				if addr := rt.cfg.Metrics.Addr; addr != "" {
					mux := http.NewServeMux()
					mux.Handle("/metrics", rt.metrics.Handler())
					mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
						w.WriteHeader(http.StatusOK)
					})
					srv = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
					go func() {
						if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
							rt.logger.Error("metrics server stopped", "error", err)
						}
					}()
					rt.logger.Info("metrics server listening", "addr", addr)
				}

				sched := scheduler.New(p, rt.logger)
				if err := sched.Start(ctx, rt.cfg.Schedule); err != nil {
					return err
				}
				<-ctx.Done()
				rt.logger.Info("shutting down")
				sched.Stop()

				if srv != nil {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					return srv.Shutdown(shutdownCtx)
				}
				return nil
			})
		},
	}
}

func listCmd(g *globalFlags) *cobra.Command {
	var (
		category   string
		sourceType string
		sortBy     string
		limit      int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print the accepted feed",
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := feedQuery(category, sourceType, sortBy, limit)
			if err != nil {
				return err
			}
			return withRuntime(g, func(ctx context.Context, rt *runtime) error {
				articles, err := rt.db.Query(ctx, q)
				if err != nil {
					return err
				}
				printArticles(cmd.OutOrStdout(), articles)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "cute_or_fun | improvement | heartwarming | user_submitted")
	cmd.Flags().StringVar(&sourceType, "source-type", "", "ai_generated | user_submitted")
	cmd.Flags().StringVar(&sortBy, "sort", string(news.SortRecency), "recency | positivity")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of articles")
	return cmd
}

func feedQuery(category, sourceType, sortBy string, limit int) (news.FeedQuery, error) {
	q := news.FeedQuery{Limit: limit}
	switch c := news.Category(category); {
	case category == "":
	case c == news.CategoryUserSubmitted:
		q.Category = c
	default:
		parsed, ok := news.ParseCategory(category)
		if !ok || !parsed.Good() {
			return q, fmt.Errorf("unknown category %q", category)
		}
		q.Category = parsed
	}
	switch st := news.SourceType(sourceType); st {
	case "", news.SourceTypeAI, news.SourceTypeUser:
		q.SourceType = st
	default:
		return q, fmt.Errorf("unknown source type %q", sourceType)
	}
	switch s := news.SortOrder(sortBy); s {
	case news.SortRecency, news.SortPositivity:
		q.Sort = s
	default:
		return q, fmt.Errorf("unknown sort order %q", sortBy)
	}
	return q, nil
}

func printArticles(w io.Writer, articles []news.Article) {
	if len(articles) == 0 {
		fmt.Fprintln(w, "no articles")
		return
	}
	for _, a := range articles {
		fmt.Fprintln(w, formatter.FeedLine(a))
	}
}

func submitCmd(g *globalFlags) *cobra.Command {
	var title, story string
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a personal good-news story for moderation",
		RunE: func(cmd *cobra.Command, args []string) error {
			if story == "-" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read story: %w", err)
				}
				story = string(data)
			}
			return withRuntime(g, func(ctx context.Context, rt *runtime) error {
				subs, err := rt.submissions(ctx)
				if err != nil {
					return err
				}
				sub, err := subs.Submit(ctx, title, story)
				if err != nil {
					return err
				}
				verdict := "rejected"
				if sub.Approved {
					verdict = "approved"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "submission %s %s: %s\n", sub.ID, verdict, sub.Reason)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "Story title")
	cmd.Flags().StringVar(&story, "story", "", "Story text (\"-\" reads stdin)")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("story")
	return cmd
}

func sessionFlag(cmd *cobra.Command, session *string) {
	cmd.Flags().StringVar(session, "session", "", "Session identifier")
	_ = cmd.MarkFlagRequired("session")
}

func saveCmd(g *globalFlags) *cobra.Command {
	var session string
	cmd := &cobra.Command{
		Use:   "save <fingerprint>",
		Short: "Bookmark an article for a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(g, func(ctx context.Context, rt *runtime) error {
				return rt.db.SaveForSession(ctx, session, strings.TrimSpace(args[0]), time.Now().UTC())
			})
		},
	}
	sessionFlag(cmd, &session)
	return cmd
}

func unsaveCmd(g *globalFlags) *cobra.Command {
	var session string
	cmd := &cobra.Command{
		Use:   "unsave <fingerprint>",
		Short: "Remove a bookmark",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(g, func(ctx context.Context, rt *runtime) error {
				return rt.db.UnsaveForSession(ctx, session, strings.TrimSpace(args[0]))
			})
		},
	}
	sessionFlag(cmd, &session)
	return cmd
}

func savedCmd(g *globalFlags) *cobra.Command {
	var session string
	cmd := &cobra.Command{
		Use:   "saved",
		Short: "List bookmarks of a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(g, func(ctx context.Context, rt *runtime) error {
				articles, err := rt.db.SavedForSession(ctx, session)
				if err != nil {
					return err
				}
				printArticles(cmd.OutOrStdout(), articles)
				return nil
			})
		},
	}
	sessionFlag(cmd, &session)
	return cmd
}

func pruneCmd(g *globalFlags) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete articles older than the retention period",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(g, func(ctx context.Context, rt *runtime) error {
				if days <= 0 {
					days = rt.cfg.Pipeline.RetentionDays
				}
				if days <= 0 {
					return fmt.Errorf("retention is disabled; pass --days")
				}
				cutoff := time.Now().UTC().AddDate(0, 0, -days)
				removed, err := rt.db.Prune(ctx, cutoff)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d articles older than %s\n", removed, cutoff.Format(time.DateOnly))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "Retention in days (default from config)")
	return cmd
}

func cyclesCmd(g *globalFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "cycles",
		Short: "Show recent pipeline cycles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(g, func(ctx context.Context, rt *runtime) error {
				cycles, err := rt.db.RecentCycles(ctx, limit)
				if err != nil {
					return err
				}
				printCycles(cmd.OutOrStdout(), cycles)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "Number of cycles")
	return cmd
}

func printCycles(w io.Writer, cycles []news.Cycle) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tSTATUS\tWINDOW\tACCEPTED\tREJECTED\tERRORED\tDEFERRED")
	for _, c := range cycles {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s..%s\t%d\t%d\t%d\t%d\n",
			c.ID, c.StartedAt.Format(time.DateTime), c.Status,
			c.Window.Start.Format(time.DateTime), c.Window.End.Format(time.DateTime),
			c.Counts.Accepted, c.Counts.Rejected, c.Counts.Errored, c.Counts.Deferred)
	}
	_ = tw.Flush()
}

func discoverCmd() *cobra.Command {
	var maxFeeds int
	cmd := &cobra.Command{
		Use:   "discover <site-url>...",
		Short: "Find RSS/Atom feeds on sites and print them as sources.rss entries",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			d := sources.NewDiscoverer(&http.Client{Timeout: 10 * time.Second}, maxFeeds)
			var out struct {
				RSS []config.Feed `yaml:"rss"`
			}
			for _, site := range args {
				feeds, err := d.Discover(ctx, site)
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", site, err)
					continue
				}
				out.RSS = append(out.RSS, feeds...)
			}
			if len(out.RSS) == 0 {
				return errors.New("no feeds found")
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(out); err != nil {
				return err
			}
			return enc.Close()
		},
	}
	cmd.Flags().IntVar(&maxFeeds, "max", 10, "Maximum feeds per site")
	return cmd
}

var _ scheduler.Runner = (*app.Pipeline)(nil)
