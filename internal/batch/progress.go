package batch

import "sync"

// Progress tracks how far a run has come: the number of matching items, how
// many are done and a status text. The zero value is ready to use. An
// OnUpdate callback receives a consistent snapshot after every change; it is
// called outside the internal lock, so it may call back into Progress.
type Progress struct {
	OnUpdate func(done, total int, text string)

	mu    sync.Mutex
	done  int
	total int
	text  string
}

// NewProgress returns a progress tracker reporting to onUpdate. A nil
// callback makes the tracker a plain counter.
func NewProgress(onUpdate func(done, total int, text string)) *Progress {
	return &Progress{OnUpdate: onUpdate}
}

// Reset clears the counters and the status text.
func (p *Progress) Reset() {
	p.update(func() {
		p.done = 0
		p.total = 0
		p.text = ""
	})
}

// SetTotal sets the number of items the run is going to process.
func (p *Progress) SetTotal(total int) {
	p.update(func() { p.total = total })
}

// Advance marks one more item as finished.
func (p *Progress) Advance() {
	p.update(func() { p.done++ })
}

// SetText replaces the status text.
func (p *Progress) SetText(text string) {
	p.update(func() { p.text = text })
}

// Snapshot returns the current counters and status text.
func (p *Progress) Snapshot() (done, total int, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done, p.total, p.text
}

func (p *Progress) update(change func()) {
	p.mu.Lock()
	change()
	done, total, text := p.done, p.total, p.text
	onUpdate := p.OnUpdate
	p.mu.Unlock()

	if onUpdate != nil {
		onUpdate(done, total, text)
	}
}
