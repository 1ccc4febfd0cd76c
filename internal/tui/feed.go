package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"skyplay/internal/network"
	"skyplay/internal/player"
	"skyplay/internal/protocol"
)

const feedBuffer = 256

// feed buffers messages for the model. Touch and progress messages are
// dropped when the buffer is full; state and finish messages evict the
// oldest queued message instead so the outcome always arrives.
type feed chan tea.Msg

func (f feed) send(msg tea.Msg) {
	select {
	case f <- msg:
	default:
	}
}

func (f feed) deliver(msg tea.Msg) {
	for {
		select {
		case f <- msg:
			return
		default:
		}
		select {
		case <-f:
		default:
		}
	}
}

// FromScheduler subscribes to a local scheduler. The returned cancel
// unsubscribes; the channel is never closed.
func FromScheduler(s *player.Scheduler) (<-chan tea.Msg, func()) {
	ch := make(feed, feedBuffer)

	unsubscribe := s.Subscribe(func(ev player.Event) {
		switch ev.Kind {
		case player.EventStarted, player.EventState:
			ch.deliver(stateFromSnapshot(s.Snapshot()))
		case player.EventPress, player.EventRelease, player.EventSkipped:
			ch.send(TouchMsg{Kind: string(ev.Kind), Note: ev.Note})
		case player.EventProgress:
			ch.send(ProgressMsg(ev.Percent))
		case player.EventFinished:
			fin := FinishedMsg{}
			if res := ev.Result; res != nil {
				fin = FinishedMsg{
					Outcome: res.Outcome.String(),
					Error:   res.Reason(),
					Played:  res.Played,
					Skipped: res.Skipped,
				}
			}
			ch.deliver(fin)
			ch.deliver(stateFromSnapshot(s.Snapshot()))
		}
	})
	return ch, unsubscribe
}

// FromClient installs callbacks on a WebSocket client
func FromClient(c *network.WSClient) <-chan tea.Msg {
	ch := make(feed, feedBuffer)

	c.OnState = func(p protocol.StatePayload) {
		ch.deliver(StateMsg{State: p.State, Cursor: p.Cursor, Total: p.Total, Progress: p.Progress, Pressed: p.Pressed})
	}
	c.OnProgress = func(percent int) {
		ch.send(ProgressMsg(percent))
	}
	c.OnTouch = func(kind protocol.MessageType, p protocol.TouchPayload) {
		ch.send(TouchMsg{Kind: string(kind), Note: p.Note})
	}
	c.OnFinished = func(p protocol.FinishedPayload) {
		ch.deliver(FinishedMsg{Outcome: p.Outcome, Error: p.Error, Played: p.Played, Skipped: p.Skipped})
	}
	return ch
}

func stateFromSnapshot(snap player.Snapshot) StateMsg {
	return StateMsg{
		State:    snap.State.String(),
		Cursor:   snap.Cursor,
		Total:    snap.Total,
		Progress: snap.Progress,
		Pressed:  snap.Pressed,
	}
}
