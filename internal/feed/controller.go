package feed

import (
	"sync"

	"github.com/google/uuid"

	"github.com/hitoshi/analogview/internal/query"
)

// Controller はユーザーが選択中のFilterQueryを保持し、Feedを駆動する。
// フィルタの変更は必ずControllerを経由し、変更のたびに新しいセッションが始まる。
type Controller struct {
	feed *Feed

	mu    sync.Mutex
	query query.FilterQuery
}

// NewController はinitialを選択状態とするControllerを生成する。
// セッションは開始しない。
func NewController(f *Feed, initial query.FilterQuery) *Controller {
	return &Controller{feed: f, query: initial.Clone()}
}

// Feed は駆動対象のFeedを返す。
func (c *Controller) Feed() *Feed {
	return c.feed
}

// Query は現在のFilterQueryのコピーを返す。
func (c *Controller) Query() query.FilterQuery {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.query.Clone()
}

// Update はmutateでFilterQueryを変更する。
// 条件が変わった場合、またはまだ一度も読み込めていない場合に新しいセッションを開始し、trueを返す。
func (c *Controller) Update(mutate func(q *query.FilterQuery)) bool {
	c.mu.Lock()
	next := c.query.Clone()
	mutate(&next)
	if next.Equal(c.query) && c.feed.State() != Idle {
		c.mu.Unlock()
		return false
	}
	c.query = next
	c.feed.StartSession(next)
	c.mu.Unlock()
	return true
}

// Set は1フィールドを変更する。Updateと同じく変化があればセッションを開始する。
func (c *Controller) Set(field query.Field, value string) bool {
	return c.Update(func(q *query.FilterQuery) {
		q.Set(field, value)
	})
}

// Reset はqを選択状態にして、条件が同じでも新しいセッションを開始する。
// ページの再読み込みやランダム順の引き直しに使う。
func (c *Controller) Reset(q query.FilterQuery) uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.query = q.Clone()
	return c.feed.StartSession(c.query)
}
