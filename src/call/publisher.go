package call

import (
	"context"
	"sync"
	"time"

	"github.com/mosaicnetworks/walkie/src/common"
	"github.com/mosaicnetworks/walkie/src/relay"
	"github.com/sirupsen/logrus"
)

type relayRef struct {
	topic string
	key   string
}

// publishJob pushes fields to a topic, or removes a key when fields is nil.
// Pushes marked always are still performed after the publisher is closed.
type publishJob struct {
	topic  string
	fields relay.Fields
	key    string
	always bool
}

func (j publishJob) remove() bool {
	return j.fields == nil
}

// publisher performs the relay writes of one session, in order, on its own
// goroutine. Pushes are retried up to a cap. When the publisher is closed it
// drops the pushes that are still queued, performs the queued removals, and
// removes every record it pushed, so that a finished call leaves nothing
// behind in the relay.
type publisher struct {
	channel relay.Channel
	jobs    *mailbox
	retries int
	delay   time.Duration
	timeout time.Duration
	onFail  func(error)

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	pushed []relayRef

	done   chan struct{}
	logger *logrus.Entry
}

func newPublisher(channel relay.Channel,
	retries int,
	delay time.Duration,
	timeout time.Duration,
	onFail func(error),
	logger *logrus.Entry) *publisher {

	if retries < 1 {
		retries = 1
	}

	ctx, cancel := context.WithCancel(context.Background())

	p := &publisher{
		channel: channel,
		jobs:    newMailbox(),
		retries: retries,
		delay:   delay,
		timeout: timeout,
		onFail:  onFail,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		logger:  logger,
	}

	go p.run()

	return p
}

func (p *publisher) push(topic string, fields relay.Fields) {
	p.jobs.put(publishJob{topic: topic, fields: fields})
}

func (p *publisher) pushAlways(topic string, fields relay.Fields) {
	p.jobs.put(publishJob{topic: topic, fields: fields, always: true})
}

func (p *publisher) remove(topic string, key string) {
	p.jobs.put(publishJob{topic: topic, key: key})
}

// close stops the publisher and starts the final sweep. It does not wait.
func (p *publisher) close() {
	p.cancel()
}

// wait blocks until the final sweep is done.
func (p *publisher) wait() {
	<-p.done
}

func (p *publisher) run() {
	defer close(p.done)

	for {
		select {
		case <-p.jobs.signal:
		case <-p.ctx.Done():
		}

		for _, item := range p.jobs.take() {
			job := item.(publishJob)
			if p.ctx.Err() != nil && !job.remove() && !job.always {
				continue
			}
			p.exec(job)
		}

		if p.ctx.Err() != nil {
			for _, item := range p.jobs.take() {
				if job := item.(publishJob); job.remove() || job.always {
					p.exec(job)
				}
			}
			p.sweep()
			return
		}
	}
}

func (p *publisher) exec(job publishJob) {
	if job.remove() {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()
		if err := p.channel.Remove(ctx, job.topic, job.key); err != nil {
			p.logger.WithError(err).WithFields(logrus.Fields{
				"topic": job.topic,
				"key":   job.key,
			}).Debug("Error removing relay record")
		}
		return
	}

	var err error
	for attempt := 1; ; attempt++ {
		var key string
		key, err = p.pushOnce(job)
		if err == nil {
			p.mu.Lock()
			p.pushed = append(p.pushed, relayRef{topic: job.topic, key: key})
			p.mu.Unlock()
			return
		}

		if attempt >= p.retries || p.ctx.Err() != nil {
			break
		}

		p.logger.WithError(err).WithFields(logrus.Fields{
			"topic":   job.topic,
			"attempt": attempt,
		}).Debug("Retrying relay push")

		select {
		case <-time.After(p.delay):
		case <-p.ctx.Done():
		}
	}

	if p.ctx.Err() != nil {
		return
	}

	p.onFail(common.NewCallErr(common.RelayPublish, "push "+job.topic, err))
}

func (p *publisher) pushOnce(job publishJob) (string, error) {
	parent := p.ctx
	if job.always {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, p.timeout)
	defer cancel()
	return p.channel.Push(ctx, job.topic, job.fields)
}

func (p *publisher) sweep() {
	p.mu.Lock()
	pushed := p.pushed
	p.pushed = nil
	p.mu.Unlock()

	for _, ref := range pushed {
		p.exec(publishJob{topic: ref.topic, key: ref.key})
	}

	p.logger.WithField("records", len(pushed)).Debug("Relay records swept")
}
