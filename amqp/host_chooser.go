package amqp

import (
	"math/rand/v2"
	"sync"
)

// HostChooser decides the order in which a pool tries its hosts for one
// connect round and learns from the outcome.
type HostChooser interface {
	Order(hosts []Host) []Host
	ReportFailure(host Host, err error)
	ReportSuccess(host Host)
}

// RandomHostChooser shuffles the hosts on every round so no host is
// permanently preferred.
type RandomHostChooser struct {
	lock      sync.Mutex
	lastError string
	shuffle   func(n int, swap func(i, j int))
}

// NewRandomHostChooser returns a chooser that shuffles the hosts every round.
func NewRandomHostChooser() *RandomHostChooser {
	return &RandomHostChooser{shuffle: rand.Shuffle}
}

// Order returns a shuffled copy of hosts.
func (chooser *RandomHostChooser) Order(hosts []Host) []Host {
	ordered := append([]Host(nil), hosts...)
	if chooser == nil {
		return ordered
	}
	shuffle := chooser.shuffle
	if shuffle == nil {
		shuffle = rand.Shuffle
	}
	shuffle(len(ordered), func(i, j int) {
		ordered[i], ordered[j] = ordered[j], ordered[i]
	})
	return ordered
}

// ReportFailure records the last failure for diagnostics.
func (chooser *RandomHostChooser) ReportFailure(host Host, err error) {
	if chooser == nil || err == nil {
		return
	}
	chooser.lock.Lock()
	chooser.lastError = host.Key() + ": " + err.Error()
	chooser.lock.Unlock()
}

// ReportSuccess clears the recorded failure.
func (chooser *RandomHostChooser) ReportSuccess(host Host) {
	if chooser == nil {
		return
	}
	chooser.lock.Lock()
	chooser.lastError = ""
	chooser.lock.Unlock()
}

// Error returns the latest reported failure.
func (chooser *RandomHostChooser) Error() string {
	if chooser == nil {
		return ""
	}
	chooser.lock.Lock()
	defer chooser.lock.Unlock()
	return chooser.lastError
}

// RoundRobinHostChooser keeps the configured order, starting each round at
// the host after the last failure or at the last host that succeeded.
type RoundRobinHostChooser struct {
	lock      sync.Mutex
	failed    string
	preferred string
}

// NewRoundRobinHostChooser returns a new RoundRobinHostChooser.
func NewRoundRobinHostChooser() *RoundRobinHostChooser {
	return &RoundRobinHostChooser{}
}

// Order returns hosts rotated to start after the failed host, or at the
// preferred one.
func (chooser *RoundRobinHostChooser) Order(hosts []Host) []Host {
	ordered := make([]Host, 0, len(hosts))
	if len(hosts) == 0 {
		return ordered
	}

	chooser.lock.Lock()
	failed, preferred := chooser.failed, chooser.preferred
	chooser.lock.Unlock()

	start := 0
	for i, host := range hosts {
		if failed != "" && host.Key() == failed {
			start = (i + 1) % len(hosts)
			break
		}
		if failed == "" && host.Key() == preferred {
			start = i
			break
		}
	}
	for i := range hosts {
		ordered = append(ordered, hosts[(start+i)%len(hosts)])
	}
	return ordered
}

// ReportFailure makes the next round start after host.
func (chooser *RoundRobinHostChooser) ReportFailure(host Host, err error) {
	chooser.lock.Lock()
	chooser.failed = host.Key()
	chooser.lock.Unlock()
}

// ReportSuccess makes the next round start at host.
func (chooser *RoundRobinHostChooser) ReportSuccess(host Host) {
	chooser.lock.Lock()
	chooser.failed = ""
	chooser.preferred = host.Key()
	chooser.lock.Unlock()
}
