package loadtest

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"
)

// Scenario は仮想ユーザーが繰り返すリクエストの組。
type Scenario string

const (
	ScenarioRandom  Scenario = "random"
	ScenarioTop     Scenario = "top"
	ScenarioLatest  Scenario = "latest"
	ScenarioPost    Scenario = "post"
	ScenarioSimilar Scenario = "similar"
)

// DefaultScenarios は指定がない場合に同時に実行するシナリオ。
func DefaultScenarios() []Scenario {
	return []Scenario{ScenarioRandom, ScenarioTop, ScenarioLatest, ScenarioPost}
}

func allScenarios() []Scenario {
	return append(DefaultScenarios(), ScenarioSimilar)
}

// ParseScenarios はカンマ区切りのシナリオ名を解釈する。空ならDefaultScenarios。
func ParseScenarios(raw string) ([]Scenario, error) {
	if strings.TrimSpace(raw) == "" {
		return DefaultScenarios(), nil
	}
	var out []Scenario
	seen := make(map[Scenario]bool)
	for _, name := range strings.Split(raw, ",") {
		s := Scenario(strings.ToLower(strings.TrimSpace(name)))
		if !s.valid() {
			return nil, fmt.Errorf("unknown scenario %q", name)
		}
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out, nil
}

func (s Scenario) valid() bool {
	for _, known := range allScenarios() {
		if s == known {
			return true
		}
	}
	return false
}

// needsIDs は投稿IDの一覧が必要なシナリオかを返す。
func (s Scenario) needsIDs() bool {
	return s == ScenarioPost || s == ScenarioSimilar
}

// paths は1イテレーションで取得するパスを返す。
func (s Scenario) paths(ids []int) []string {
	switch s {
	case ScenarioRandom, ScenarioTop, ScenarioLatest:
		return []string{"/posts?sort=" + string(s)}
	case ScenarioPost:
		id := strconv.Itoa(ids[rand.IntN(len(ids))])
		return []string{"/post/" + id, "/post/" + id + "/similar"}
	case ScenarioSimilar:
		return []string{"/post/" + strconv.Itoa(ids[rand.IntN(len(ids))]) + "/similar"}
	}
	return nil
}

// Stage は仮想ユーザー数をDurationかけてTargetまで増減させる区間。
type Stage struct {
	Target   int
	Duration time.Duration
}

// DefaultStages は 2 → 3 → 2 → 1 の各区間をdずつ実行する。
func DefaultStages(d time.Duration) []Stage {
	return []Stage{
		{Target: 2, Duration: d},
		{Target: 3, Duration: d},
		{Target: 2, Duration: d},
		{Target: 1, Duration: d},
	}
}

// ParseStages は "2:30s,3:30s" 形式の区間指定を解釈する。
func ParseStages(raw string) ([]Stage, error) {
	var stages []Stage
	for _, part := range strings.Split(raw, ",") {
		target, dur, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok {
			return nil, fmt.Errorf("invalid stage %q: want target:duration", part)
		}
		n, err := strconv.Atoi(target)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid stage target %q", target)
		}
		d, err := time.ParseDuration(dur)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid stage duration %q", dur)
		}
		stages = append(stages, Stage{Target: n, Duration: d})
	}
	return stages, nil
}

func totalDuration(stages []Stage) time.Duration {
	var total time.Duration
	for _, st := range stages {
		total += st.Duration
	}
	return total
}

// vusAt は開始からelapsed経過時点の仮想ユーザー数を返す。
// 各区間の中では直前の値からTargetまで線形に変化させる。
func vusAt(stages []Stage, start int, elapsed time.Duration) int {
	from := start
	for _, st := range stages {
		if elapsed < st.Duration {
			frac := float64(elapsed) / float64(st.Duration)
			return from + int(float64(st.Target-from)*frac+0.5*sign(st.Target-from))
		}
		elapsed -= st.Duration
		from = st.Target
	}
	return from
}

func sign(n int) float64 {
	switch {
	case n > 0:
		return 1
	case n < 0:
		return -1
	}
	return 0
}
