package bridge

import (
	"sync"

	"github.com/sweeney/pumpsync/internal/ble"
)

// notifyChunk is how many bytes the bridge sends per notification.
const notifyChunk = 20

// FakePump plays the bridge and pump behind a ble.FakeTransport.
// Pages[0] is the newest history page.
type FakePump struct {
	mu sync.Mutex

	Model string
	Pages [][]byte

	// Drop, if positive, swallows that many commands without a reply.
	Drop int

	// Refuse, if set, NACKs every command with this code.
	Refuse PumpError

	// Requests records the opcode and payload of each command received.
	Requests []Frame
}

// NewFakePump returns a pump of the given model serving pages.
func NewFakePump(model string, pages ...[]byte) *FakePump {
	return &FakePump{Model: model, Pages: pages}
}

// Respond implements ble.Responder.
func (p *FakePump) Respond(char ble.UUID, value []byte) (ble.UUID, [][]byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if char != WriteUUID {
		return NotifyUUID, nil
	}
	f, err := Decode(value)
	if err != nil || f.Type != TypeCommand {
		return NotifyUUID, nil
	}
	p.Requests = append(p.Requests, f)

	if p.Drop > 0 {
		p.Drop--
		return NotifyUUID, nil
	}
	if p.Refuse != 0 {
		return NotifyUUID, chunk(EncodeFrame(TypeNack, f.Opcode, []byte{byte(p.Refuse)}))
	}

	switch f.Opcode {
	case OpReadModel:
		payload := append([]byte{byte(len(p.Model))}, p.Model...)
		return NotifyUUID, chunk(EncodeFrame(TypeResponse, OpReadModel, payload))
	case OpReadHistoryPage:
		n := 0
		if len(f.Payload) > 0 {
			n = int(f.Payload[0])
		}
		if n >= len(p.Pages) {
			return NotifyUUID, chunk(EncodeFrame(TypeNack, f.Opcode, []byte{byte(PageDoesNotExist)}))
		}
		return NotifyUUID, chunk(EncodeFrame(TypeResponse, OpReadHistoryPage, p.Pages[n]))
	}
	return NotifyUUID, chunk(EncodeFrame(TypeNack, f.Opcode, []byte{byte(CommandRefused)}))
}

// PageRequests returns the page numbers requested so far.
func (p *FakePump) PageRequests() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []int
	for _, r := range p.Requests {
		if r.Opcode == OpReadHistoryPage && len(r.Payload) > 0 {
			out = append(out, int(r.Payload[0]))
		}
	}
	return out
}

func chunk(frame []byte) [][]byte {
	var out [][]byte
	for len(frame) > 0 {
		n := len(frame)
		if n > notifyChunk {
			n = notifyChunk
		}
		out = append(out, frame[:n])
		frame = frame[n:]
	}
	return out
}

// NewFakeTransport returns a connected ble.FakeTransport exposing the bridge
// GATT layout and answering as p.
func NewFakeTransport(p *FakePump) *ble.FakeTransport {
	ft := ble.NewFakeTransport([]ble.UUID{ServiceUUID}, []ble.UUID{NotifyUUID, WriteUUID})
	ft.Respond(p.Respond)
	return ft
}
