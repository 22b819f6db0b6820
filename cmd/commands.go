package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/pitchfork-crawler/internal/dispatcher"
)

const shutdownTimeout = 10 * time.Second

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Runs every phase: sitemap, album reviews, author pages, scripts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			sum, err := a.Run(cmd.Context())
			if err != nil {
				return fmt.Errorf("run crawler: %w", err)
			}
			a.Logger().Info("Crawl finished",
				zap.Int("review_passes", sum.Reviews.Passes),
				zap.Int("reviews_unresolved", len(sum.Reviews.Remaining)),
				zap.Int("scripts_executed", len(sum.Scripts.Executed)),
			)
			return nil
		},
	}
}

func newSitemapCmd() *cobra.Command {
	var from, to int
	cmd := &cobra.Command{
		Use:   "sitemap",
		Short: "Registers every page listed by the yearly sitemaps",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			site := a.Config().Site
			if from == 0 {
				from = site.FirstYear
			}
			if to == 0 {
				to = site.LastYear
			}
			if from > to {
				return fmt.Errorf("--from %d is after --to %d", from, to)
			}
			report := a.Pipeline().ScrapeSitemap(cmd.Context(), from, to)
			logReport(a.Logger(), report)
			return cmd.Context().Err()
		},
	}
	cmd.Flags().IntVar(&from, "from", 0, "first sitemap year (default site.first_year)")
	cmd.Flags().IntVar(&to, "to", 0, "last sitemap year (default site.last_year)")
	return cmd
}

func newReviewsCmd() *cobra.Command {
	var urls []string
	cmd := &cobra.Command{
		Use:   "reviews",
		Short: "Scrapes album review pages, retrying abandoned ones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if len(urls) > 0 {
				var errs []error
				for _, u := range urls {
					if err := a.Pipeline().ScrapeAlbumURL(cmd.Context(), u); err != nil {
						errs = append(errs, fmt.Errorf("%s: %w", u, err))
					}
				}
				return errors.Join(errs...)
			}
			drain, err := a.Pipeline().ScrapeAlbumReviews(cmd.Context(), nil)
			for _, r := range drain.Reports {
				logReport(a.Logger(), r)
			}
			if err != nil {
				return fmt.Errorf("scrape album reviews: %w", err)
			}
			if len(drain.Remaining) > 0 {
				a.Logger().Warn("Album reviews left unresolved", zap.Int("count", len(drain.Remaining)))
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&urls, "url", nil, "scrape only these album review URLs")
	return cmd
}

func newAuthorsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "authors",
		Short: "Scrapes the profile page of every known author",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			report, err := a.Pipeline().ScrapeAuthors(cmd.Context())
			if err != nil {
				return fmt.Errorf("scrape authors: %w", err)
			}
			logReport(a.Logger(), report)
			return nil
		},
	}
}

func newScriptsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scripts [dir]",
		Short: "Executes the post-load SQL scripts",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			dir := a.Config().Scripts.Dir
			if len(args) == 1 {
				dir = args[0]
			}
			res, err := a.Scripts().RunDir(cmd.Context(), dir)
			a.Logger().Info("Scripts finished",
				zap.Strings("executed", res.Executed),
				zap.Strings("skipped", res.Skipped),
				zap.Strings("failed", res.Failed),
			)
			if err != nil {
				return fmt.Errorf("run scripts: %w", err)
			}
			return nil
		},
	}
}

func newFailuresCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "failures",
		Short: "Lists album review pages whose latest fetch was abandoned",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			targets, err := a.Pipeline().Failures(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, t := range targets {
				if _, err := fmt.Fprintf(out, "%d\t%s\n", t.URLID, t.URL); err != nil {
					return fmt.Errorf("write failures: %w", err)
				}
			}
			return nil
		},
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Starts the status server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			srv := &http.Server{
				Addr:              a.Config().Server.Addr,
				Handler:           a.Server().Handler(),
				ReadHeaderTimeout: 5 * time.Second,
			}
			return serve(cmd.Context(), srv, a.Logger())
		},
	}
}

// serve runs srv until ctx is canceled, then drains it.
func serve(ctx context.Context, srv *http.Server, logger *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutdown initiated")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

func logReport(logger *zap.Logger, r dispatcher.Report) {
	logger.Info("Batch finished",
		zap.String("batch", r.Batch),
		zap.Int("items", r.Items),
		zap.Int("completed", r.Completed),
		zap.Int("failed", r.Failed),
		zap.Int("skipped", r.Skipped),
		zap.Duration("duration", r.Duration),
	)
}
