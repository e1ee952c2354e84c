package app

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hitoshi/analogview/internal/apiclient"
	"github.com/hitoshi/analogview/internal/browse"
	"github.com/hitoshi/analogview/internal/config"
	"github.com/hitoshi/analogview/internal/feed"
	"github.com/hitoshi/analogview/internal/loadtest"
	"github.com/hitoshi/analogview/internal/logger"
	"github.com/hitoshi/analogview/internal/metrics"
	"github.com/hitoshi/analogview/internal/output"
	"github.com/hitoshi/analogview/internal/query"
	"github.com/hitoshi/analogview/internal/security"
	"github.com/hitoshi/analogview/internal/warmer"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はWebサーバーモード。サブコマンド省略時もこれになる。
	CommandServe Command = "serve"
	// CommandBrowse は端末でフィードを閲覧する。
	CommandBrowse Command = "browse"
	// CommandWarm は共有キャッシュを温める。
	CommandWarm Command = "warm"
	// CommandLoadTest はAPIに負荷をかける。
	CommandLoadTest Command = "loadtest"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// NewRootCommand はサブコマンドをすべて登録したルートコマンドを生成する。
// wはserveのログと各コマンドの標準出力になる。
func NewRootCommand(w io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:   "analogview",
		Short: "Web front end for the AnalogDB film photography API",
		Long: `analogview serves the AnalogDB gallery with infinite scrolling feeds.

Example usage:
  analogview                       # same as "analogview serve"
  analogview browse --preset top   # browse the top posts in the terminal
  analogview warm                  # refresh the shared response cache once
  analogview loadtest --stage-duration 10s`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd, w)
		},
	}
	root.SetOut(w)

	root.AddCommand(
		&cobra.Command{
			Use:   string(CommandServe),
			Short: "Start the web server and the cache warmer",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return serve(cmd, w)
			},
		},
		newBrowseCommand(),
		newWarmCommand(),
		newLoadTestCommand(),
		newHealthcheckCommand(),
	)
	return root
}

func serve(cmd *cobra.Command, w io.Writer) error {
	cfg, log, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}
	log.Info("starting application",
		slog.String("command", string(CommandServe)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)
	return runServe(cmd.Context(), cfg, log)
}

// browseFlags はFilterQueryのフィールドに対応するフラグ。
var browseFlags = []struct {
	name  string
	field query.Field
	usage string
}{
	{"sort", query.FieldSort, "sort order: latest, top, random"},
	{"nsfw", query.FieldNsfw, "nsfw posts: exclude, include, only"},
	{"grayscale", query.FieldGrayscale, "black and white posts: exclude, include, only"},
	{"sprocket", query.FieldSprocket, "sprocket hole posts: exclude, include, only"},
	{"color", query.FieldColor, "dominant color, e.g. red or blue"},
	{"width-min", query.FieldWidthMin, "minimum width in px"},
	{"width-max", query.FieldWidthMax, "maximum width in px"},
	{"height-min", query.FieldHeightMin, "minimum height in px"},
	{"height-max", query.FieldHeightMax, "maximum height in px"},
	{"ratio-min", query.FieldRatioMin, "minimum aspect ratio"},
	{"ratio-max", query.FieldRatioMax, "maximum aspect ratio"},
	{"page-size", query.FieldPageSize, "posts per page (1-200)"},
}

func newBrowseCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   string(CommandBrowse),
		Short: "Browse the gallery feed in the terminal",
		Long: `Browse the gallery feed interactively.

Press enter to load more posts. Type "help" for the list of commands.

Examples:
  analogview browse --preset bw --keyword leica
  analogview browse --color blue --sprocket only`,
		Args: cobra.NoArgs,
		RunE: runBrowse,
	}
	f := cmd.Flags()
	f.String("preset", string(query.PresetLatest), "starting preset: latest, top, random, bw, nsfw")
	for _, bf := range browseFlags {
		f.String(bf.name, "", bf.usage)
	}
	f.StringSlice("keyword", nil, "keyword filter (repeatable)")
	f.String("color-mode", "auto", "colored output: auto, always, never")
	return cmd
}

// queryFromFlags はプリセットを起点に、指定されたフラグだけを上書きしたFilterQueryを返す。
// ページサイズのフラグがなければdefaultPageSizeを使う。
func queryFromFlags(cmd *cobra.Command, defaultPageSize int) (query.FilterQuery, error) {
	flags := cmd.Flags()
	name, _ := flags.GetString("preset")
	preset := query.Preset(strings.ToLower(name))
	known := false
	for _, p := range query.Presets() {
		known = known || p == preset
	}
	if !known {
		return query.FilterQuery{}, fmt.Errorf("unknown preset %q", name)
	}

	q := query.FromPreset(preset)
	q.PageSize = defaultPageSize
	for _, bf := range browseFlags {
		if flags.Changed(bf.name) {
			value, _ := flags.GetString(bf.name)
			q.Set(bf.field, value)
		}
	}
	if flags.Changed("keyword") {
		keywords, _ := flags.GetStringSlice("keyword")
		q.Set(query.FieldKeywords, strings.Join(keywords, " "))
	}
	return q, nil
}

func runBrowse(cmd *cobra.Command, _ []string) error {
	mode, err := output.ParseColorMode(stringFlag(cmd, "color-mode"))
	if err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	q, err := queryFromFlags(cmd, cfg.FeedPageSize)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	log := logger.Setup(cmd.ErrOrStderr(), cfg.Level())
	api, err := newAPIDeps(ctx, cfg, log, metrics.Nop{})
	if err != nil {
		return err
	}
	defer api.close()

	f := feed.New(api.client, log, feed.WithProximityThreshold(cfg.ProximityThreshold))
	defer f.Close()

	printer := output.NewPrinter(cmd.OutOrStdout(), output.ResolveColors(mode))
	b := browse.New(feed.NewController(f, q), printer, security.NewPostSanitizer(), log)
	if err := b.Run(ctx, cmd.InOrStdin()); err != nil && !isShutdown(ctx, err) {
		return err
	}
	return nil
}

func newWarmCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   string(CommandWarm),
		Short: "Refresh the shared response cache",
		Long: `Re-fetch /ids, /authors and the first page of every cacheable gallery
preset, overwriting the shared cache. Useful with REDIS_URL so that every
server instance sees the refreshed entries.`,
		Args: cobra.NoArgs,
		RunE: runWarm,
	}
	cmd.Flags().Bool("watch", false, "keep running every WARM_INTERVAL until interrupted")
	cmd.Flags().String("color-mode", "auto", "colored output: auto, always, never")
	return cmd
}

func runWarm(cmd *cobra.Command, _ []string) error {
	mode, err := output.ParseColorMode(stringFlag(cmd, "color-mode"))
	if err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx := cmd.Context()
	log := logger.Setup(cmd.ErrOrStderr(), cfg.Level())
	api, err := newAPIDeps(ctx, cfg, log, metrics.Nop{})
	if err != nil {
		return err
	}
	defer api.close()

	wm := warmer.New(api.client, log, warmer.Config{Interval: cfg.WarmInterval, PageSize: cfg.FeedPageSize})
	if watch, _ := cmd.Flags().GetBool("watch"); watch {
		wm.Start(ctx)
		return nil
	}

	res, runErr := wm.RunOnce(ctx)
	printer := output.NewPrinter(cmd.OutOrStdout(), output.ResolveColors(mode))
	table := printer.Table("target", "duration", "result")
	for _, t := range res.Targets {
		result := printer.Badge(t.Err == nil)
		if t.Err != nil {
			result += " " + printer.Dim(t.Err.Error())
		}
		table.AddRow(t.Name, t.Duration.Round(time.Millisecond).String(), result)
	}
	if err := table.Render(); err != nil {
		return err
	}
	return runErr
}

func newLoadTestCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   string(CommandLoadTest),
		Short: "Run a load test against the AnalogDB API",
		Long: `Run ramping virtual users against the API and check the thresholds
(failure rate and p95 latency). Exits non-zero when a threshold fails.

Credentials are read from AUTH_USERNAME and AUTH_PASSWORD.

Examples:
  analogview loadtest --base-url http://analogdb:8080 --stage-duration 30s
  analogview loadtest --scenarios post,similar --stages 5:1m,10:1m --rps 50`,
		Args: cobra.NoArgs,
		RunE: runLoadTest,
	}
	f := cmd.Flags()
	f.String("base-url", "", "API base URL (default $ANALOGDB_API_URL)")
	f.String("scenarios", "", "comma separated scenarios: random, top, latest, post, similar (default random,top,latest,post)")
	f.String("stages", "", `custom stages as target:duration pairs, e.g. "2:30s,3:30s"`)
	f.Duration("stage-duration", 30*time.Second, "duration of each default stage (2, 3, 2, 1 VUs)")
	f.Int("start-vus", 1, "virtual users at the start of each scenario")
	f.Duration("delay", 0, "sleep after each request")
	f.Float64("rps", 0, "global request rate limit (0 = unlimited)")
	f.Bool("http2", false, "count non HTTP/2 responses as failures")
	f.Float64("max-failure-rate", loadtest.DefaultThresholds().MaxFailureRate, "threshold: failure rate must stay below")
	f.Duration("p95", loadtest.DefaultThresholds().P95, "threshold: p95 latency must stay below")
	f.String("color-mode", "auto", "colored output: auto, always, never")
	return cmd
}

func runLoadTest(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	mode, err := output.ParseColorMode(stringFlag(cmd, "color-mode"))
	if err != nil {
		return err
	}
	clientCfg, err := config.LoadClient()
	if err != nil {
		return err
	}

	baseURL := stringFlag(cmd, "base-url")
	if baseURL == "" {
		baseURL = clientCfg.APIURL
	}
	if baseURL == "" {
		return errors.New("--base-url or ANALOGDB_API_URL is required")
	}

	scenarios, err := loadtest.ParseScenarios(stringFlag(cmd, "scenarios"))
	if err != nil {
		return err
	}
	var stages []loadtest.Stage
	if raw := stringFlag(cmd, "stages"); raw != "" {
		if stages, err = loadtest.ParseStages(raw); err != nil {
			return err
		}
	} else {
		d, _ := flags.GetDuration("stage-duration")
		stages = loadtest.DefaultStages(d)
	}

	startVUs, _ := flags.GetInt("start-vus")
	delay, _ := flags.GetDuration("delay")
	rps, _ := flags.GetFloat64("rps")
	checkHTTP2, _ := flags.GetBool("http2")
	maxFailureRate, _ := flags.GetFloat64("max-failure-rate")
	p95, _ := flags.GetDuration("p95")

	httpClient, err := apiclient.NewHTTPClient(clientCfg.APITimeout)
	if err != nil {
		return err
	}
	log := logger.Setup(cmd.ErrOrStderr(), clientCfg.Level())
	runner, err := loadtest.NewRunner(loadtest.Config{
		BaseURL:           baseURL,
		Scenarios:         scenarios,
		Stages:            stages,
		StartVUs:          startVUs,
		Delay:             delay,
		RequestsPerSecond: rps,
		Username:          clientCfg.AuthUsername,
		Password:          clientCfg.AuthPassword,
		CheckHTTP2:        checkHTTP2,
		Thresholds:        loadtest.Thresholds{MaxFailureRate: maxFailureRate, P95: p95},
	}, httpClient, log)
	if err != nil {
		return err
	}

	report, runErr := runner.Run(cmd.Context())
	if report != nil {
		if err := report.Render(output.NewPrinter(cmd.OutOrStdout(), output.ResolveColors(mode))); err != nil {
			return err
		}
	}
	return runErr
}

func newHealthcheckCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   string(CommandHealthcheck),
		Short: "Check that the local server answers /health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			port := stringFlag(cmd, "port")
			if _, err := strconv.Atoi(port); err != nil {
				return fmt.Errorf("invalid port %q", port)
			}
			return runHealthcheck(cmd.Context(), port)
		},
	}
	cmd.Flags().String("port", defaultPort(), "server port (default $SERVER_PORT or 8080)")
	return cmd
}

func stringFlag(cmd *cobra.Command, name string) string {
	v, _ := cmd.Flags().GetString(name)
	return v
}
