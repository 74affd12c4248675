package kernel

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder 生成记录调用顺序的处理器。
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) pass(name string) Handler {
	return HandlerFunc(func(ctx context.Context, msg *Message, next Next) (any, error) {
		r.add(name)
		return next(ctx, msg)
	})
}

func (r *recorder) reply(name string, value any) Handler {
	return HandlerFunc(func(ctx context.Context, msg *Message, next Next) (any, error) {
		r.add(name)
		return value, nil
	})
}

func (r *recorder) add(name string) {
	r.mu.Lock()
	r.calls = append(r.calls, name)
	r.mu.Unlock()
}

// TestDispatchShortCircuit 验证 [A 放行, B 接管, C] 时只执行 A、B，结果为 B 的返回值。
func TestDispatchShortCircuit(t *testing.T) {
	rec := &recorder{}
	var h Handlers
	h.With(rec.pass("A")).With(rec.reply("B", "from-b")).With(rec.reply("C", "from-c"))

	got, err := h.Dispatch(context.Background(), "fallback", NewMessage(nil, ""))
	require.NoError(t, err)
	assert.Equal(t, "from-b", got)
	assert.Equal(t, []string{"A", "B"}, rec.calls)
}

// TestDispatchFallback 验证全部放行时返回默认结果。
func TestDispatchFallback(t *testing.T) {
	rec := &recorder{}
	var h Handlers
	h.With(rec.pass("A")).With(rec.pass("B"))

	got, err := h.Dispatch(context.Background(), "fallback", NewMessage(nil, ""))
	require.NoError(t, err)
	assert.Equal(t, "fallback", got)
	assert.Equal(t, []string{"A", "B"}, rec.calls)

	var empty Handlers
	got, err = empty.Dispatch(context.Background(), 42, nil)
	require.NoError(t, err)
	assert.Equal(t, 42, got)
}

// TestDispatchPrepended 验证本次调用插入的处理器排在链头且不写入注册表。
func TestDispatchPrepended(t *testing.T) {
	rec := &recorder{}
	var h Handlers
	h.With(rec.pass("A"))

	_, err := h.Dispatch(context.Background(), nil, NewMessage(nil, ""), rec.pass("P1"), nil, rec.pass("P2"))
	require.NoError(t, err)
	assert.Equal(t, []string{"P1", "P2", "A"}, rec.calls)
	assert.Equal(t, 1, h.Len())
}

// TestDispatchReplacesMessage 验证处理器可以将替换后的消息交给后续处理器。
func TestDispatchReplacesMessage(t *testing.T) {
	var h Handlers
	h.WithFunc(func(ctx context.Context, msg *Message, next Next) (any, error) {
		return next(ctx, msg.WithFields([]Field{{Name: "Content", Value: "decrypted"}}))
	})
	h.WithFunc(func(ctx context.Context, msg *Message, next Next) (any, error) {
		return msg.Value("Content"), nil
	})

	got, err := h.Dispatch(context.Background(), nil, NewMessage([]Field{{Name: "Encrypt", Value: "x"}}, ""))
	require.NoError(t, err)
	assert.Equal(t, "decrypted", got)
}

// TestDispatchError 验证处理器错误原样返回且终止链。
func TestDispatchError(t *testing.T) {
	rec := &recorder{}
	boom := errors.New("boom")
	var h Handlers
	h.WithFunc(func(ctx context.Context, msg *Message, next Next) (any, error) {
		return nil, boom
	}).With(rec.pass("after"))

	_, err := h.Dispatch(context.Background(), nil, NewMessage(nil, ""))
	require.ErrorIs(t, err, boom)
	assert.Empty(t, rec.calls)
}

// TestWithKeyReplacesSlot 验证同名槽位被替换并移动到链尾。
func TestWithKeyReplacesSlot(t *testing.T) {
	rec := &recorder{}
	var h Handlers
	h.WithKey("ticket", rec.pass("default"))
	h.With(rec.pass("A"))
	h.WithKey("ticket", rec.pass("custom"))

	assert.True(t, h.Has("ticket"))
	assert.Equal(t, 2, h.Len())

	_, err := h.Dispatch(context.Background(), nil, NewMessage(nil, ""))
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "custom"}, rec.calls)

	h.Without("ticket")
	assert.False(t, h.Has("ticket"))
	assert.Equal(t, 1, h.Len())

	// 空槽位名不会误删匿名处理器。
	h.Without("")
	assert.Equal(t, 1, h.Len())
}

// TestWhen 验证谓词包装的处理器仅在匹配时执行。
func TestWhen(t *testing.T) {
	rec := &recorder{}
	var h Handlers
	h.With(When(func(m *Message) bool { return m.Event() == "subscribe" }, rec.reply("welcome", "hi")))

	got, err := h.Dispatch(context.Background(), "fallback", NewMessage([]Field{{Name: "Event", Value: "unsubscribe"}}, ""))
	require.NoError(t, err)
	assert.Equal(t, "fallback", got)

	got, err = h.Dispatch(context.Background(), "fallback", NewMessage([]Field{{Name: "Event", Value: "subscribe"}}, ""))
	require.NoError(t, err)
	assert.Equal(t, "hi", got)
	assert.Equal(t, []string{"welcome"}, rec.calls)
}

// TestDispatchConcurrentRegistration 验证并发注册与分发互不干扰。
func TestDispatchConcurrentRegistration(t *testing.T) {
	var h Handlers
	h.With(HandlerFunc(nil))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			h.WithKey("slot", HandlerFunc(nil))
		}()
		go func() {
			defer wg.Done()
			got, err := h.Dispatch(context.Background(), "ok", NewMessage(nil, ""))
			assert.NoError(t, err)
			assert.Equal(t, "ok", got)
		}()
	}
	wg.Wait()
	assert.Equal(t, 2, h.Len())
}
