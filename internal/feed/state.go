package feed

import "fmt"

// State はフィードの状態。
type State int

const (
	// Idle はセッション未開始、または先頭ページの取得に失敗した状態。
	Idle State = iota
	// LoadingFirst は先頭ページを取得中。
	LoadingFirst
	// Ready は続きを読み込める状態。
	Ready
	// LoadingMore は次ページを取得中。この間のLoadMoreは無視される。
	LoadingMore
	// Exhausted は最終ページまで読み込んだ状態。
	Exhausted
	// Empty は条件に一致する投稿が0件だった状態。
	Empty
)

// String はログ・JSON用の名前を返す。
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case LoadingFirst:
		return "loading_first"
	case Ready:
		return "ready"
	case LoadingMore:
		return "loading_more"
	case Exhausted:
		return "exhausted"
	case Empty:
		return "empty"
	default:
		return "unknown"
	}
}

// Loading は取得中かを返す。
func (s State) Loading() bool {
	return s == LoadingFirst || s == LoadingMore
}

// MarshalText はJSONで状態名を出力する。
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText は状態名から復元する。APIクライアント側でJSONを読むときに使う。
func (s *State) UnmarshalText(text []byte) error {
	for st := Idle; st <= Empty; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown feed state: %q", text)
}
