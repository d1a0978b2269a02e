package tracker

import (
	"sync"

	"github.com/good-yellow-bee/blazetrack/internal/models"
)

const (
	// maxBreadcrumbs is the capacity of the tracker-wide ring.
	maxBreadcrumbs = 100
	// eventBreadcrumbs is how many of the newest crumbs an event keeps.
	eventBreadcrumbs = 20
)

// breadcrumbRing is a fixed-capacity FIFO of breadcrumbs.
type breadcrumbRing struct {
	mu    sync.Mutex
	buf   []models.Breadcrumb
	start int
	n     int
}

func newBreadcrumbRing(capacity int) *breadcrumbRing {
	return &breadcrumbRing{buf: make([]models.Breadcrumb, capacity)}
}

func (r *breadcrumbRing) add(b models.Breadcrumb) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = b
		r.n++
		return
	}
	r.buf[r.start] = b
	r.start = (r.start + 1) % len(r.buf)
}

// last returns up to n of the newest breadcrumbs, oldest first.
// n <= 0 returns all of them.
func (r *breadcrumbRing) last(n int) []models.Breadcrumb {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n <= 0 || n > r.n {
		n = r.n
	}
	out := make([]models.Breadcrumb, 0, n)
	for i := r.n - n; i < r.n; i++ {
		out = append(out, r.buf[(r.start+i)%len(r.buf)])
	}
	return out
}

func (r *breadcrumbRing) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.start, r.n = 0, 0
}
