// Package browse は端末上でフィードを閲覧する対話型のブラウザ。
//
// 標準入力から1行ずつコマンドを読み、feed.Controller経由でフィルタを変更する。
// Enter（または more）はスクロールで末尾に近づいたことの代わりになる。
package browse

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/hitoshi/analogview/internal/feed"
	"github.com/hitoshi/analogview/internal/model"
	"github.com/hitoshi/analogview/internal/output"
	"github.com/hitoshi/analogview/internal/query"
	"github.com/hitoshi/analogview/internal/security"
)

const helpText = `commands:
  <enter> | more          load the next page when near the end
  sort <latest|top|random>
  nsfw|grayscale|sprocket <exclude|include|only>
  search <words>          replace keywords (empty clears)
  color <name|none>
  set <field> <value>     any filter field, e.g. "set width_min 2000"
  reset                   start over with the current filters
  query                   show the current filters
  help
  quit`

// fieldCommands はコマンド名をそのままFilterQueryのフィールドに対応させる。
var fieldCommands = map[string]query.Field{
	"sort":      query.FieldSort,
	"nsfw":      query.FieldNsfw,
	"grayscale": query.FieldGrayscale,
	"sprocket":  query.FieldSprocket,
	"search":    query.FieldKeywords,
	"color":     query.FieldColor,
}

// Browser は1つのControllerを対話的に操作する。
type Browser struct {
	ctrl      *feed.Controller
	printer   *output.Printer
	sanitizer *security.PostSanitizer
	logger    *slog.Logger

	// shown は現在のセッションで表示済みの件数。
	shown int
}

// New はBrowserを生成する。
func New(ctrl *feed.Controller, printer *output.Printer, sanitizer *security.PostSanitizer, logger *slog.Logger) *Browser {
	return &Browser{
		ctrl:      ctrl,
		printer:   printer,
		sanitizer: sanitizer,
		logger:    logger,
	}
}

// Run は現在のフィルタで最初のページを読み込み、inからコマンドを読んで処理する。
// quit、入力の終端、ctxのキャンセルのいずれかで戻る。
func (b *Browser) Run(ctx context.Context, in io.Reader) error {
	unsubscribe := b.ctrl.Feed().Subscribe(b.logTransition)
	defer unsubscribe()

	b.ctrl.Reset(b.ctrl.Query())
	if err := b.refresh(ctx, true); err != nil {
		return err
	}

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
		close(lines)
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		b.prompt()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				fmt.Fprintln(b.printer.Writer())
				return <-scanErr
			}
			quit, err := b.Execute(ctx, line)
			if err != nil {
				return err
			}
			if quit {
				return nil
			}
		}
	}
}

// Execute は1行のコマンドを処理する。quitならtrueを返す。
func (b *Browser) Execute(ctx context.Context, line string) (bool, error) {
	name, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	name = strings.ToLower(name)
	arg = strings.TrimSpace(arg)

	switch name {
	case "", "more", "m":
		return false, b.more(ctx)
	case "quit", "exit", "q":
		return true, nil
	case "help", "?":
		fmt.Fprintln(b.printer.Writer(), helpText)
		return false, nil
	case "query":
		b.printer.Info("%s", b.ctrl.Query().Encode())
		return false, nil
	case "reset":
		b.ctrl.Reset(b.ctrl.Query())
		return false, b.refresh(ctx, true)
	case "set":
		field, value, _ := strings.Cut(arg, " ")
		return false, b.set(ctx, query.Field(strings.ToLower(field)), strings.TrimSpace(value))
	}

	if field, ok := fieldCommands[name]; ok {
		return false, b.set(ctx, field, arg)
	}
	b.printer.Failure("unknown command %q (type help)", name)
	return false, nil
}

func (b *Browser) set(ctx context.Context, field query.Field, value string) error {
	if !b.ctrl.Set(field, value) {
		b.printer.Info("filters unchanged: %s", b.ctrl.Query().Encode())
		return nil
	}
	b.logger.Debug("フィルタを変更しました",
		slog.String("field", string(field)),
		slog.String("value", value),
	)
	return b.refresh(ctx, true)
}

// more は表示済みの末尾が見えたものとしてNearEndを通知する。
func (b *Browser) more(ctx context.Context) error {
	f := b.ctrl.Feed()
	if !f.NearEnd(b.shown - 1) {
		b.printState(f.Snapshot())
		return nil
	}
	return b.refresh(ctx, false)
}

// refresh は取得の完了を待ち、未表示の投稿と状態を出力する。
// newSessionなら表示済み件数を0に戻す。
func (b *Browser) refresh(ctx context.Context, newSession bool) error {
	f := b.ctrl.Feed()
	if err := f.Wait(ctx); err != nil {
		return err
	}
	snap := f.Snapshot()
	if newSession {
		b.shown = 0
	}
	if b.shown > len(snap.Posts) {
		b.shown = 0
	}
	if err := b.renderPosts(snap.Posts[b.shown:], b.shown); err != nil {
		return err
	}
	b.shown = len(snap.Posts)
	b.printState(snap)
	return nil
}

func (b *Browser) renderPosts(posts []model.Post, offset int) error {
	if len(posts) == 0 {
		return nil
	}
	table := b.printer.Table("#", "id", "title", "author", "score", "flags")
	for i, p := range b.sanitizer.Posts(posts) {
		table.AddRow(
			strconv.Itoa(offset+i+1),
			strconv.Itoa(p.ID),
			truncate(p.Title, 60),
			p.Author,
			strconv.Itoa(p.Score),
			b.printer.Dim(flags(p)),
		)
	}
	return table.Render()
}

func (b *Browser) printState(snap feed.Snapshot) {
	parts := []string{
		b.printer.Paint(stateTone(snap.State), snap.State.String()),
		fmt.Sprintf("%d/%d posts", len(snap.Posts), snap.TotalCount),
	}
	switch {
	case snap.State == feed.Empty:
		parts = append(parts, "no posts match these filters")
	case snap.HasMore:
		parts = append(parts, "enter for more")
	case snap.State == feed.Exhausted:
		parts = append(parts, "end of feed")
	}
	if snap.Err != nil {
		parts = append(parts, b.printer.Paint(output.ToneBad, "error: "+snap.Err.Error()))
	}
	fmt.Fprintf(b.printer.Writer(), "[%s]\n", strings.Join(parts, " | "))
}

// logTransition はフィードの状態遷移をデバッグログに残す。取得のゴルーチンからも呼ばれる。
func (b *Browser) logTransition(snap feed.Snapshot) {
	args := []any{
		slog.String("session_id", snap.SessionID.String()),
		slog.String("state", snap.State.String()),
		slog.Int("posts", len(snap.Posts)),
		slog.String("query", snap.Query.Encode()),
	}
	if snap.Err != nil {
		args = append(args, slog.String("error", snap.Err.Error()))
	}
	b.logger.Debug("フィードの状態が変わりました", args...)
}

func (b *Browser) prompt() {
	fmt.Fprint(b.printer.Writer(), b.printer.Bold("> "))
}

func stateTone(s feed.State) output.Tone {
	switch s {
	case feed.Ready:
		return output.ToneGood
	case feed.LoadingFirst, feed.LoadingMore:
		return output.ToneWarn
	case feed.Idle, feed.Empty:
		return output.ToneBad
	case feed.Exhausted:
		return output.ToneMuted
	}
	return output.ToneNeutral
}

func flags(p model.Post) string {
	var out []string
	if p.Nsfw {
		out = append(out, "nsfw")
	}
	if p.Grayscale {
		out = append(out, "bw")
	}
	if p.Sprocket {
		out = append(out, "sprocket")
	}
	return strings.Join(out, ",")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
