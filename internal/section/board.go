package section

import (
	"sync"
	"time"

	"github.com/derWhity/nereid/internal/log"
	"github.com/sirupsen/logrus"
)

// Factory creates the runner of a visitor's section with the given name
type Factory func(visitorID, name string) *Runner

// boardRequest is a request that is sent over one of the board's channels to be executed inside the control goroutine
type boardRequest struct {
	visitorID string
	section   string
	answer    chan<- *Runner
}

// visitorSections are the sections of one visitor
type visitorSections struct {
	runners   map[string]*Runner
	expiresAt time.Time
}

func (v *visitorSections) expired(now time.Time) bool {
	return now.After(v.expiresAt)
}

// Board holds the section runners of all visitors. Sections of visitors that have not been seen for longer than the
// expiry time are closed
type Board struct {
	factory Factory
	expiry  time.Duration
	logger  *logrus.Entry

	// get is a channel to request a visitor's section runner - creating it if needed
	get chan boardRequest
	// drop is a channel to request all sections of a visitor to be closed
	drop chan boardRequest
	// closing is closed when the board is shut down
	closing chan struct{}
	done    chan struct{}
	once    sync.Once
	// Runners being closed in the background
	closers sync.WaitGroup
}

// NewBoard creates a new board creating its runners with the given factory
func NewBoard(factory Factory, expiry time.Duration, logger *logrus.Entry) *Board {
	b := &Board{
		factory: factory,
		expiry:  expiry,
		logger:  logger,
		get:     make(chan boardRequest),
		drop:    make(chan boardRequest),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	go b.control()
	return b
}

// Runner returns the runner of a visitor's section and extends the visitor's expiry
func (b *Board) Runner(visitorID, section string) (*Runner, error) {
	answer := make(chan *Runner, 1)
	select {
	case b.get <- boardRequest{visitorID: visitorID, section: section, answer: answer}:
		return <-answer, nil
	case <-b.done:
		return nil, ErrClosed
	}
}

// Drop closes all sections of the visitor
func (b *Board) Drop(visitorID string) {
	answer := make(chan *Runner, 1)
	select {
	case b.drop <- boardRequest{visitorID: visitorID, answer: answer}:
		<-answer
	case <-b.done:
	}
}

// Close closes all runners and stops the board
func (b *Board) Close() {
	b.once.Do(func() {
		close(b.closing)
		<-b.done
		b.closers.Wait()
	})
}

// purgeInterval returns how often expired visitors are looked for
func (b *Board) purgeInterval() time.Duration {
	interval := time.Minute
	if b.expiry < 2*interval {
		interval = b.expiry / 2
	}
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	return interval
}

// closeAll closes the runners in the background - a runner might have to wait for a request to return
func (b *Board) closeAll(v *visitorSections) {
	for _, r := range v.runners {
		b.closers.Add(1)
		go func(r *Runner) {
			defer b.closers.Done()
			r.Close()
		}(r)
	}
}

// control is the control goroutine that runs until the board is closed, managing the visitors' sections
func (b *Board) control() {
	visitors := map[string]*visitorSections{}
	ticker := time.NewTicker(b.purgeInterval())
	defer ticker.Stop()
	for {
		select {
		case req := <-b.get:
			v, ok := visitors[req.visitorID]
			if !ok {
				v = &visitorSections{runners: map[string]*Runner{}}
				visitors[req.visitorID] = v
			}
			v.expiresAt = time.Now().Add(b.expiry)
			r, ok := v.runners[req.section]
			if !ok {
				r = b.factory(req.visitorID, req.section)
				v.runners[req.section] = r
				b.logger.WithFields(logrus.Fields{log.FldVisitor: req.visitorID, log.FldSection: req.section}).
					Debug("Section created")
			}
			req.answer <- r
		case req := <-b.drop:
			if v, ok := visitors[req.visitorID]; ok {
				b.closeAll(v)
				delete(visitors, req.visitorID)
			}
			req.answer <- nil
		case now := <-ticker.C:
			// Purge the sections of all expired visitors
			for id, v := range visitors {
				if v.expired(now) {
					b.closeAll(v)
					delete(visitors, id)
					b.logger.WithField(log.FldVisitor, id).Debug("Visitor expired - sections closed")
				}
			}
		case <-b.closing:
			for _, v := range visitors {
				b.closeAll(v)
			}
			close(b.done)
			return
		}
	}
}
