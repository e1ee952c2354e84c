package query

import (
	"net/url"
	"strconv"
	"strings"
)

// Encode は /posts に渡す正規化済みクエリ文字列（先頭の"?"を含む）を返す。
// パラメータ順は sort, nsfw, grayscale, sprocket, keyword..., color, min_color,
// width_min, width_max, height_min, height_max, ratio_min, ratio_max, page_size で固定。
// 同じFilterQueryからは常に同じ文字列が得られる。
func (q FilterQuery) Encode() string {
	var b strings.Builder
	add := func(key, value string) {
		if b.Len() == 0 {
			b.WriteByte('?')
		} else {
			b.WriteByte('&')
		}
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(value))
	}

	sort := q.Sort
	if sort == "" {
		sort = SortLatest
	}
	add("sort", string(sort))

	addTriState := func(key string, ts TriState) {
		switch ts {
		case Exclude:
			add(key, "false")
		case Only:
			add(key, "true")
		}
	}
	addTriState("nsfw", q.Nsfw)
	addTriState("grayscale", q.Grayscale)
	addTriState("sprocket", q.Sprocket)

	for _, kw := range q.Keywords {
		for _, tok := range Tokenize(kw) {
			add("keyword", tok)
		}
	}

	if q.Color != "" {
		add("color", q.Color)
		add("min_color", formatFloat(q.MinColorFraction()))
	}

	addRange := func(prefix string, r, limits Range) {
		if r.Min > limits.Min {
			add(prefix+"_min", formatFloat(r.Min))
		}
		if r.Max < limits.Max {
			add(prefix+"_max", formatFloat(r.Max))
		}
	}
	addRange("width", q.Width, WidthLimits)
	addRange("height", q.Height, HeightLimits)
	addRange("ratio", q.AspectRatio, AspectRatioLimits)

	pageSize := q.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	add("page_size", strconv.Itoa(pageSize))

	return b.String()
}

// String はEncodeと同じ。
func (q FilterQuery) String() string {
	return q.Encode()
}

// Parse はEncodeが生成したクエリ文字列からFilterQueryを復元する。
// 先頭の"?"はあってもなくてもよい。省略された3値フィルタはIncludeになる。
// 不正な値は無視され、そのフィールドは既定値のままになる。
func Parse(raw string) FilterQuery {
	values, err := url.ParseQuery(strings.TrimPrefix(raw, "?"))
	q := unfiltered()
	if err != nil {
		return q
	}
	q.Apply(values)
	return q
}

// Apply はvaluesに含まれるパラメータだけをqに上書きする。
// プリセットにリクエストのクエリパラメータを重ねる用途で使う。
// min_color は色から導出されるため読み捨てる。
func (q *FilterQuery) Apply(values url.Values) {
	if v := values.Get("sort"); v != "" {
		q.Set(FieldSort, v)
	}
	applyTriState := func(key string, field Field) {
		v := values.Get(key)
		if v == "" {
			return
		}
		if b, ok := parseBool(v); ok {
			if b {
				q.Set(field, string(Only))
			} else {
				q.Set(field, string(Exclude))
			}
			return
		}
		// UIのフォームは exclude/include/only をそのまま送る
		q.Set(field, v)
	}
	applyTriState("nsfw", FieldNsfw)
	applyTriState("grayscale", FieldGrayscale)
	applyTriState("sprocket", FieldSprocket)

	if kws, ok := values["keyword"]; ok {
		q.Keywords = nil
		for _, kw := range kws {
			q.AddKeyword(kw)
		}
	}
	if _, ok := values["color"]; ok {
		q.SetColor(values.Get("color"))
	}

	for _, field := range []Field{
		FieldWidthMin, FieldWidthMax,
		FieldHeightMin, FieldHeightMax,
		FieldRatioMin, FieldRatioMax,
		FieldPageSize,
	} {
		if v := values.Get(string(field)); v != "" {
			q.Set(field, v)
		}
	}
}

// truthy/falsey はAPIサーバーが受け付ける真偽値表現。
var (
	truthy = map[string]bool{"true": true, "t": true, "yes": true, "y": true, "1": true}
	falsey = map[string]bool{"false": true, "f": true, "no": true, "n": true, "0": true}
)

func parseBool(v string) (value bool, ok bool) {
	v = strings.ToLower(v)
	if truthy[v] {
		return true, true
	}
	if falsey[v] {
		return false, true
	}
	return false, false
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
