package query

// Preset はギャラリーの固定ページ（/、/top など）に対応する初期条件。
type Preset string

const (
	PresetLatest Preset = "latest"
	PresetTop    Preset = "top"
	PresetRandom Preset = "random"
	PresetBW     Preset = "bw"
	PresetNsfw   Preset = "nsfw"
)

// Presets は全プリセットを表示順で返す。
func Presets() []Preset {
	return []Preset{PresetLatest, PresetTop, PresetRandom, PresetBW, PresetNsfw}
}

// FromPreset はプリセットのFilterQueryを返す。未知のプリセットはDefault()になる。
func FromPreset(p Preset) FilterQuery {
	q := Default()
	switch p {
	case PresetTop:
		q.Sort = SortTop
		q.Grayscale = Include
	case PresetRandom:
		q.Sort = SortRandom
		q.Grayscale = Include
	case PresetBW:
		q.Grayscale = Only
	case PresetNsfw:
		q.Nsfw = Only
		q.Grayscale = Include
	}
	return q
}
