// Package query はギャラリーのフィルタ・ソート条件（FilterQuery）を提供する。
// FilterQueryは値オブジェクトで、AnalogDB APIの /posts が受け付ける
// 正規化済みクエリ文字列との相互変換を行う。
package query

import (
	"math"
	"slices"
	"strconv"
	"strings"
)

// Sort は投稿の並び順。
type Sort string

const (
	SortLatest Sort = "latest"
	SortTop    Sort = "top"
	SortRandom Sort = "random"
)

// TriState はnsfw/grayscale/sprocketの3値フィルタ。
type TriState string

const (
	// Exclude は該当する投稿を除外する（APIには false を送る）。
	Exclude TriState = "exclude"
	// Include は区別しない（APIにはパラメータを送らない）。
	Include TriState = "include"
	// Only は該当する投稿のみに絞る（APIには true を送る）。
	Only TriState = "only"
)

// Field はSetで更新できるフィールド名。
type Field string

const (
	FieldSort      Field = "sort"
	FieldNsfw      Field = "nsfw"
	FieldGrayscale Field = "grayscale"
	FieldSprocket  Field = "sprocket"
	FieldKeywords  Field = "keywords"
	FieldColor     Field = "color"
	FieldWidthMin  Field = "width_min"
	FieldWidthMax  Field = "width_max"
	FieldHeightMin Field = "height_min"
	FieldHeightMax Field = "height_max"
	FieldRatioMin  Field = "ratio_min"
	FieldRatioMax  Field = "ratio_max"
	FieldPageSize  Field = "page_size"
)

const (
	// DefaultPageSize はフィード取得時の1ページあたりの件数。
	DefaultPageSize = 100
	// MaxPageSize はAPI側の上限。
	MaxPageSize = 200
)

// Range は閉区間 [Min, Max]。
type Range struct {
	Min float64
	Max float64
}

// プラットフォーム上限。範囲フィルタはこの中にクランプされる。
var (
	WidthLimits       = Range{Min: 0, Max: 10000}
	HeightLimits      = Range{Min: 0, Max: 10000}
	AspectRatioLimits = Range{Min: 0.1, Max: 10}
)

// FilterQuery はユーザーが選択したフィルタ・ソート条件。
// ゼロ値ではなくDefault()から生成すること。
type FilterQuery struct {
	Sort        Sort
	Nsfw        TriState
	Grayscale   TriState
	Sprocket    TriState
	Keywords    []string
	Color       string
	Width       Range
	Height      Range
	AspectRatio Range
	PageSize    int
}

// Default はUIの初期状態のFilterQueryを返す。
// nsfwとモノクロは除外、スプロケットは含める。
func Default() FilterQuery {
	return FilterQuery{
		Sort:        SortLatest,
		Nsfw:        Exclude,
		Grayscale:   Exclude,
		Sprocket:    Include,
		Width:       WidthLimits,
		Height:      HeightLimits,
		AspectRatio: AspectRatioLimits,
		PageSize:    DefaultPageSize,
	}
}

// unfiltered はクエリ文字列に現れないフィールドの解釈を表す。
// 3値フィルタは省略＝Includeとなる点がDefault()と異なる。
func unfiltered() FilterQuery {
	q := Default()
	q.Nsfw = Include
	q.Grayscale = Include
	q.Sprocket = Include
	return q
}

// Clone はKeywordsを複製した独立したコピーを返す。
func (q FilterQuery) Clone() FilterQuery {
	q.Keywords = slices.Clone(q.Keywords)
	return q
}

// Equal は全フィールドが等しいかを返す。
func (q FilterQuery) Equal(o FilterQuery) bool {
	return q.Sort == o.Sort &&
		q.Nsfw == o.Nsfw &&
		q.Grayscale == o.Grayscale &&
		q.Sprocket == o.Sprocket &&
		slices.Equal(q.Keywords, o.Keywords) &&
		q.Color == o.Color &&
		q.Width == o.Width &&
		q.Height == o.Height &&
		q.AspectRatio == o.AspectRatio &&
		q.PageSize == o.PageSize
}

// Set は1フィールドを更新する。
// 値はフィールドの定義域に正規化される。列挙外の値は無視し、
// 数値はプラットフォーム上限にクランプし、min > max になる場合は反対側の境界を引きずる。
// エラーは返さない。
func (q *FilterQuery) Set(field Field, value string) {
	value = strings.TrimSpace(value)

	switch field {
	case FieldSort:
		if s, ok := parseSort(value); ok {
			q.Sort = s
		}
	case FieldNsfw:
		if ts, ok := parseTriState(value); ok {
			q.Nsfw = ts
		}
	case FieldGrayscale:
		if ts, ok := parseTriState(value); ok {
			q.Grayscale = ts
		}
	case FieldSprocket:
		if ts, ok := parseTriState(value); ok {
			q.Sprocket = ts
		}
	case FieldKeywords:
		q.SetKeywords(value)
	case FieldColor:
		q.SetColor(value)
	case FieldWidthMin, FieldWidthMax, FieldHeightMin, FieldHeightMax, FieldRatioMin, FieldRatioMax:
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return
		}
		q.setBound(field, v)
	case FieldPageSize:
		n, err := strconv.Atoi(value)
		if err != nil {
			return
		}
		q.PageSize = clampInt(n, 1, MaxPageSize)
	}
}

// SetKeywords は自由入力のキーワード文字列をトークンに分割して設定する。
// 空白またはカンマで区切り、空トークンは捨てる。入力順は保持する。
func (q *FilterQuery) SetKeywords(text string) {
	q.Keywords = Tokenize(text)
}

// AddKeyword はトークン化したキーワードを末尾に追加する。
func (q *FilterQuery) AddKeyword(text string) {
	q.Keywords = append(q.Keywords, Tokenize(text)...)
}

// SetColor は色フィルタを設定する。空文字列または"none"で解除する。
// パレットにない色名は無視する。
func (q *FilterQuery) SetColor(name string) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || name == "none" {
		q.Color = ""
		return
	}
	if IsKnownColor(name) {
		q.Color = name
	}
}

// SetWidth は幅の範囲を設定する。
func (q *FilterQuery) SetWidth(min, max float64) {
	q.setBound(FieldWidthMin, min)
	q.setBound(FieldWidthMax, max)
}

// SetHeight は高さの範囲を設定する。
func (q *FilterQuery) SetHeight(min, max float64) {
	q.setBound(FieldHeightMin, min)
	q.setBound(FieldHeightMax, max)
}

// SetAspectRatio はアスペクト比の範囲を設定する。
func (q *FilterQuery) SetAspectRatio(min, max float64) {
	q.setBound(FieldRatioMin, min)
	q.setBound(FieldRatioMax, max)
}

// MinColorFraction は色フィルタに対応する min_color の値を返す。
// 色が未設定の場合は0を返す。
func (q FilterQuery) MinColorFraction() float64 {
	if q.Color == "" {
		return 0
	}
	return colorThreshold(q.Color)
}

// setBound は値を上下限にクランプする。NaNは無視する。
func (q *FilterQuery) setBound(field Field, v float64) {
	if math.IsNaN(v) {
		return
	}
	var r *Range
	var limits Range
	isMin := false

	switch field {
	case FieldWidthMin, FieldWidthMax:
		r, limits = &q.Width, WidthLimits
		isMin = field == FieldWidthMin
	case FieldHeightMin, FieldHeightMax:
		r, limits = &q.Height, HeightLimits
		isMin = field == FieldHeightMin
	case FieldRatioMin, FieldRatioMax:
		r, limits = &q.AspectRatio, AspectRatioLimits
		isMin = field == FieldRatioMin
	default:
		return
	}

	v = clampFloat(v, limits.Min, limits.Max)
	if isMin {
		r.Min = v
		if r.Max < v {
			r.Max = v
		}
		return
	}
	r.Max = v
	if r.Min > v {
		r.Min = v
	}
}

// Tokenize は空白またはカンマでキーワードを分割する。空トークンは含めない。
func Tokenize(text string) []string {
	tokens := strings.FieldsFunc(text, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	if len(tokens) == 0 {
		return nil
	}
	return tokens
}

func parseSort(v string) (Sort, bool) {
	switch Sort(strings.ToLower(v)) {
	case SortLatest:
		return SortLatest, true
	case SortTop:
		return SortTop, true
	case SortRandom:
		return SortRandom, true
	}
	return "", false
}

func parseTriState(v string) (TriState, bool) {
	switch TriState(strings.ToLower(v)) {
	case Exclude:
		return Exclude, true
	case Include:
		return Include, true
	case Only:
		return Only, true
	}
	return "", false
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
