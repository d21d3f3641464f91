package sync

import (
	"github.com/matheus3301/bubbled/internal/bus"
)

// Observer receives poller notifications. Callbacks run on the poller
// goroutine and must not block; a panicking observer is recovered.
type Observer interface {
	OnNewMessages(chatGUID string)
	OnSyncError(chatGUID string, err error)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	NewMessages func(chatGUID string)
	SyncError   func(chatGUID string, err error)
}

func (f ObserverFuncs) OnNewMessages(chatGUID string) {
	if f.NewMessages != nil {
		f.NewMessages(chatGUID)
	}
}

func (f ObserverFuncs) OnSyncError(chatGUID string, err error) {
	if f.SyncError != nil {
		f.SyncError(chatGUID, err)
	}
}

// BusObserver republishes poller notifications as bus events.
type BusObserver struct {
	Bus *bus.Bus
}

func (o BusObserver) OnNewMessages(chatGUID string) {
	o.Bus.Emit(bus.KindSyncNewMessages, bus.ChatPayload{ChatGUID: chatGUID})
}

func (o BusObserver) OnSyncError(chatGUID string, err error) {
	o.Bus.Emit(bus.KindSyncError, bus.ChatPayload{ChatGUID: chatGUID, Err: err.Error()})
}
