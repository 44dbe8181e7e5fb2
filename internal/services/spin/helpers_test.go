package spin

import (
	"context"
	"errors"
	"sync"

	"github.com/mcoot/lemonslots/internal/model"
	"github.com/mcoot/lemonslots/internal/storage"
)

var (
	errStoreDown = errors.New("store unavailable")
	errLostReply = errors.New("read tcp 10.0.0.1:6379: i/o timeout")
)

// flakyStore fails selected operations. A "lost" failure applies the write
// and then reports an error, as a dropped reply would.
type flakyStore struct {
	storage.SpinStore

	mu             sync.Mutex
	settleFailures int
	settleLost     int
	debitFailures  int
	debitLost      int
	applyFailures  int // negative fails forever
	applyLost      int
	failSpin       model.SpinID
	settleCalls    int
	debitCalls     int
	applyCalls     int

	// duringSettle and duringDebit run inside the call, before the write
	duringSettle func()
	duringDebit  func()
}

// take reports whether a failure is due and counts it down
func take(n *int) bool {
	switch {
	case *n > 0:
		*n--
		return true
	case *n < 0:
		return true
	}
	return false
}

// afterWrite turns a landed write into the error the caller would have seen
func afterWrite(ctx context.Context, lost bool) error {
	if lost {
		return errLostReply
	}
	return ctx.Err()
}

func (f *flakyStore) SettleSpin(ctx context.Context, id model.PlayerID, spinID model.SpinID, cost, reward int64) (model.Balance, error) {
	f.mu.Lock()
	f.settleCalls++
	fail, lost, hook := take(&f.settleFailures), take(&f.settleLost), f.duringSettle
	f.mu.Unlock()
	if fail {
		return model.Balance{}, errStoreDown
	}
	if hook != nil {
		hook()
	}
	bal, err := f.SpinStore.SettleSpin(ctx, id, spinID, cost, reward)
	if err != nil {
		return bal, err
	}
	if err := afterWrite(ctx, lost); err != nil {
		return model.Balance{}, err
	}
	return bal, nil
}

func (f *flakyStore) DebitSpin(ctx context.Context, credit model.PendingCredit, cost int64) (model.Balance, error) {
	f.mu.Lock()
	f.debitCalls++
	fail, lost, hook := take(&f.debitFailures), take(&f.debitLost), f.duringDebit
	f.mu.Unlock()
	if fail {
		return model.Balance{}, errStoreDown
	}
	if hook != nil {
		hook()
	}
	bal, err := f.SpinStore.DebitSpin(ctx, credit, cost)
	if err != nil {
		return bal, err
	}
	if err := afterWrite(ctx, lost); err != nil {
		return model.Balance{}, err
	}
	return bal, nil
}

func (f *flakyStore) ApplyPendingCredit(ctx context.Context, spinID model.SpinID) (model.Balance, bool, error) {
	f.mu.Lock()
	f.applyCalls++
	fail := take(&f.applyFailures) || (f.failSpin != "" && f.failSpin == spinID)
	lost := take(&f.applyLost)
	f.mu.Unlock()
	if fail {
		return model.Balance{}, false, errStoreDown
	}
	bal, applied, err := f.SpinStore.ApplyPendingCredit(ctx, spinID)
	if err != nil {
		return bal, applied, err
	}
	if err := afterWrite(ctx, lost); err != nil {
		return model.Balance{}, false, err
	}
	return bal, applied, nil
}

func (f *flakyStore) setApplyFailures(n int) {
	f.mu.Lock()
	f.applyFailures = n
	f.mu.Unlock()
}

func (f *flakyStore) calls() (settle, debit, apply int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settleCalls, f.debitCalls, f.applyCalls
}

// recordingPublisher keeps every published event in order
type recordingPublisher struct {
	mu     sync.Mutex
	events []model.BalanceEvent
}

func (p *recordingPublisher) Publish(_ context.Context, event model.BalanceEvent) {
	p.mu.Lock()
	p.events = append(p.events, event)
	p.mu.Unlock()
}

func (p *recordingPublisher) all() []model.BalanceEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.BalanceEvent, len(p.events))
	copy(out, p.events)
	return out
}
