package sink

import (
	"sync"

	"github.com/oriys/nimbus-cargo/internal/domain"
)

// hub 把收到的信封广播给所有流订阅者。
// 订阅者通道满时丢弃该信封，慢客户端不会阻塞接收。
type hub struct {
	mu   sync.RWMutex
	subs map[chan *domain.ProcessEvent]string
}

func newHub() *hub {
	return &hub{subs: make(map[chan *domain.ProcessEvent]string)}
}

// subscribe 注册订阅者，series 为空时接收全部信封
func (h *hub) subscribe(series string) chan *domain.ProcessEvent {
	ch := make(chan *domain.ProcessEvent, 100)
	h.mu.Lock()
	h.subs[ch] = series
	h.mu.Unlock()
	return ch
}

func (h *hub) unsubscribe(ch chan *domain.ProcessEvent) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
}

func (h *hub) broadcast(ev *domain.ProcessEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch, series := range h.subs {
		if series != "" && series != ev.Series() {
			continue
		}
		select {
		case ch <- ev:
		default:
		}
	}
}

func (h *hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
