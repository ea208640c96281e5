package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/codinguncut/builtwith/internal/crawler"
	"github.com/codinguncut/builtwith/internal/db"
	"github.com/codinguncut/builtwith/internal/detect"
	"github.com/codinguncut/builtwith/internal/signatures"
	"github.com/codinguncut/builtwith/internal/techdetect"
	"github.com/codinguncut/builtwith/internal/util"
	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type options struct {
	userAgent    string
	timeout      time.Duration
	concurrency  int
	json         bool
	signatures   string
	compare      bool
	save         bool
	allowPrivate bool
	noColor      bool
	verbose      bool
}

// saveRetry keeps --save from hanging on an unreachable database.
var saveRetry = db.RetryConfig{
	MaxAttempts:     2,
	InitialInterval: 500 * time.Millisecond,
	MaxInterval:     time.Second,
	Multiplier:      2.0,
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "builtwith [flags] URL...",
		Short: "Detect the technologies a website is built with",
		Long: `builtwith fetches each URL and matches its address, response headers,
HTML and meta tags against a database of technology signatures.

For every URL it prints one line per category, in sorted order:

  CMS: [WordPress]
  Web Servers: [Nginx]`,
		Version:       version,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging(errOut, opts.verbose)
			if opts.noColor {
				color.NoColor = true
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}
			return run(cmd.Context(), opts, args, out, errOut)
		},
	}

	cmd.SetOut(out)
	cmd.SetErr(errOut)

	flags := cmd.Flags()
	flags.StringVar(&opts.userAgent, "user-agent", detect.DefaultUserAgent, "User-Agent header sent when fetching pages")
	flags.DurationVar(&opts.timeout, "timeout", detect.DefaultTimeout, "timeout for each page fetch")
	flags.IntVarP(&opts.concurrency, "concurrency", "c", 4, "number of URLs analysed in parallel")
	flags.BoolVar(&opts.json, "json", false, "print one JSON object per URL")
	flags.StringVar(&opts.signatures, "signatures", "", "signature database file (default: embedded database)")
	flags.BoolVar(&opts.compare, "compare", false, "cross-check results against wappalyzergo fingerprints")
	flags.BoolVar(&opts.save, "save", false, "record results in the history database (DATABASE_URL or POSTGRES_*)")
	flags.BoolVar(&opts.allowPrivate, "allow-private", false, "allow fetching loopback and private network addresses")
	flags.BoolVar(&opts.noColor, "no-color", false, "disable colored output")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	return cmd
}

// report is the outcome for one URL argument.
type report struct {
	*detect.Result
	Comparison *techdetect.Comparison `json:"comparison,omitempty"`
	Error      string                 `json:"error,omitempty"`

	input string
}

type runner struct {
	opts      *options
	store     *signatures.Store
	crawler   *crawler.Crawler
	detector  *detect.Detector
	offline   *detect.Detector
	reference *techdetect.Detector
	history   *db.DB
}

func run(ctx context.Context, opts *options, urls []string, out, errOut io.Writer) error {
	if opts.concurrency < 1 {
		return fmt.Errorf("--concurrency must be at least 1, got %d", opts.concurrency)
	}

	store, err := loadStore(opts.signatures)
	if err != nil {
		return err
	}

	crawlerConfig := crawler.DefaultConfig()
	crawlerConfig.DefaultTimeout = opts.timeout
	crawlerConfig.UserAgent = opts.userAgent
	crawlerConfig.SkipSSRFCheck = opts.allowPrivate

	r := &runner{
		opts:    opts,
		store:   store,
		crawler: crawler.New(crawlerConfig),
		offline: detect.New(store, nil),
	}
	r.detector = detect.New(store, r.crawler,
		detect.WithUserAgent(opts.userAgent),
		detect.WithTimeout(opts.timeout),
	)

	if opts.compare {
		r.reference, err = techdetect.New()
		if err != nil {
			return fmt.Errorf("failed to load reference fingerprints: %w", err)
		}
	}

	if opts.save {
		r.history, err = db.InitFromEnvWithRetry(ctx, saveRetry)
		if errors.Is(err, db.ErrNotConfigured) {
			return fmt.Errorf("--save needs DATABASE_URL or POSTGRES_HOST: %w", err)
		}
		if err != nil {
			return err
		}
		defer r.history.Close()
	}

	reports := make([]*report, len(urls))

	var g errgroup.Group
	g.SetLimit(opts.concurrency)
	for i, raw := range urls {
		g.Go(func() error {
			reports[i] = r.detectOne(ctx, raw)
			return nil
		})
	}
	_ = g.Wait()

	if opts.json {
		return writeJSON(out, reports)
	}
	writeText(out, errOut, reports)
	return nil
}

func (r *runner) detectOne(ctx context.Context, raw string) *report {
	rep := &report{input: raw}

	pageURL, err := util.NormaliseURL(raw)
	if err != nil {
		rep.Error = err.Error()
		return rep
	}

	if r.reference == nil {
		rep.Result = r.detector.DetectURL(ctx, pageURL)
	} else {
		rep.Result, rep.Comparison = r.compare(ctx, pageURL)
	}

	if r.history != nil {
		if _, err := r.history.SaveDetection(ctx, rep.Result); err != nil {
			rep.Error = err.Error()
		}
	}

	return rep
}

// compare fetches the page once and runs both detectors over it.
func (r *runner) compare(ctx context.Context, pageURL string) (*detect.Result, *techdetect.Comparison) {
	fetchCtx, cancel := context.WithTimeout(ctx, r.opts.timeout)
	defer cancel()

	page, err := r.crawler.Fetch(fetchCtx, pageURL, http.MethodGet, r.opts.userAgent)
	if err != nil {
		log.Warn().Err(err).Str("url", pageURL).Msg("Fetch failed, continuing with available signals")
		return r.offline.Detect(ctx, detect.Request{URL: pageURL}), nil
	}

	result := r.detector.Detect(ctx, detect.Request{
		URL:     pageURL,
		Headers: page.Headers,
		HTML:    &page.Body,
	})
	return result, techdetect.Compare(result, r.reference.DetectPage(page))
}

func loadStore(path string) (*signatures.Store, error) {
	if path == "" {
		return signatures.Default()
	}
	return signatures.LoadFile(path)
}

// setupLogging sends human-readable logs to errOut, keeping stdout for results.
func setupLogging(errOut io.Writer, verbose bool) {
	level := zerolog.WarnLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Logger = zerolog.New(zerolog.ConsoleWriter{
		Out:        zerolog.SyncWriter(errOut),
		TimeFormat: time.Kitchen,
		NoColor:    color.NoColor,
	}).With().Timestamp().Logger()
}
