package kernel

import (
	"context"
	"sync"
)

// Next 调用处理器链中的下一个处理器。
type Next func(ctx context.Context, msg *Message) (any, error)

// Handler 定义消息处理器接口，由用户实现。
// 处理器可以直接返回结果（短路，后续处理器不再执行），
// 也可以调用 next 将消息（或替换后的消息）交给后续处理器。
type Handler interface {
	Handle(ctx context.Context, msg *Message, next Next) (any, error)
}

// HandlerFunc 便于将函数直接作为 Handler 使用。
type HandlerFunc func(ctx context.Context, msg *Message, next Next) (any, error)

// Handle 实现 Handler 接口。nil 函数视为直接放行。
func (f HandlerFunc) Handle(ctx context.Context, msg *Message, next Next) (any, error) {
	if f == nil {
		return next(ctx, msg)
	}
	return f(ctx, msg, next)
}

// When 用谓词包装处理器：谓词成立时执行 h，否则直接调用 next。
func When(match func(msg *Message) bool, h Handler) Handler {
	return HandlerFunc(func(ctx context.Context, msg *Message, next Next) (any, error) {
		if h != nil && match(msg) {
			return h.Handle(ctx, msg, next)
		}
		return next(ctx, msg)
	})
}

// entry 为注册表中的一项，key 为空表示匿名注册。
type entry struct {
	key     string
	handler Handler
}

// Handlers 维护按注册顺序排列的处理器链。
// 注册通常在启动阶段完成；Dispatch 在读锁下获取快照，因此并发分发互不干扰。
type Handlers struct {
	mu      sync.RWMutex
	entries []entry
}

// With 追加一个处理器到永久注册表末尾。
func (h *Handlers) With(handler Handler) *Handlers {
	return h.WithKey("", handler)
}

// WithFunc 追加一个函数处理器。
func (h *Handlers) WithFunc(fn func(ctx context.Context, msg *Message, next Next) (any, error)) *Handlers {
	return h.With(HandlerFunc(fn))
}

// WithKey 以槽位名注册处理器：同名槽位的已有处理器先被移除，新处理器追加到末尾。
// 框架安装的默认处理器（如 verify_ticket_refreshed）借此被用户处理器替换。
func (h *Handlers) WithKey(key string, handler Handler) *Handlers {
	if handler == nil {
		return h
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if key != "" {
		h.entries = removeKey(h.entries, key)
	}
	h.entries = append(h.entries, entry{key: key, handler: handler})
	return h
}

// Without 移除指定槽位的处理器。
func (h *Handlers) Without(key string) *Handlers {
	if key == "" {
		return h
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = removeKey(h.entries, key)
	return h
}

// Has 判断指定槽位是否已注册。
func (h *Handlers) Has(key string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, e := range h.entries {
		if e.key == key {
			return true
		}
	}
	return false
}

// Len 返回永久注册的处理器数量。
func (h *Handlers) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}

// Dispatch 依次执行 prepended 与永久注册的处理器，返回第一个短路结果；
// 全部放行时返回 fallback。prepended 仅作用于本次调用，不会写入注册表。
// Parameters:
//   - ctx: 请求上下文
//   - fallback: 链末端的默认结果（如 "success" 响应）
//   - msg: 待处理消息
//   - prepended: 本次调用插入到链头的处理器（如解密处理器）
//
// 流程图：
//
//	[快照 = prepended ++ entries]
//	     |
//	     v
//	[从尾到头折叠为 Next 链，末端返回 fallback]
//	     |
//	     v
//	[调用链头]
func (h *Handlers) Dispatch(ctx context.Context, fallback any, msg *Message, prepended ...Handler) (any, error) {
	return h.dispatch(ctx, fallback, msg, nil, prepended...)
}

// dispatch 同 Dispatch，seen 非 nil 时在每一环执行前收到该环拿到的消息。
func (h *Handlers) dispatch(ctx context.Context, fallback any, msg *Message, seen func(*Message), prepended ...Handler) (any, error) {
	// 第一步：在读锁下获取快照，避免与注册并发冲突。
	h.mu.RLock()
	chain := make([]Handler, 0, len(prepended)+len(h.entries))
	for _, p := range prepended {
		if p != nil {
			chain = append(chain, p)
		}
	}
	for _, e := range h.entries {
		chain = append(chain, e.handler)
	}
	h.mu.RUnlock()

	// 第二步：从尾到头构建 continuation 链。
	next := Next(func(_ context.Context, msg *Message) (any, error) {
		if seen != nil {
			seen(msg)
		}
		return fallback, nil
	})
	for i := len(chain) - 1; i >= 0; i-- {
		handler, downstream := chain[i], next
		next = func(ctx context.Context, msg *Message) (any, error) {
			if seen != nil {
				seen(msg)
			}
			return handler.Handle(ctx, msg, downstream)
		}
	}

	return next(ctx, msg)
}

func removeKey(entries []entry, key string) []entry {
	out := entries[:0:0]
	for _, e := range entries {
		if e.key != key {
			out = append(out, e)
		}
	}
	return out
}
