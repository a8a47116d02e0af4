package bridge

import (
	"errors"
	"fmt"
	"time"

	"github.com/sweeney/pumpsync/internal/ble"
	"github.com/sweeney/pumpsync/internal/pumpevent"
)

// GATT layout of the bridge.
var (
	ServiceUUID = ble.ShortUUID(0xFFF0)
	NotifyUUID  = ble.ShortUUID(0xFFF1)
	WriteUUID   = ble.ShortUUID(0xFFF2)
)

// PumpError is the code carried by a NACK.
type PumpError byte

const (
	CommandRefused     PumpError = 0x08
	MaxSettingExceeded PumpError = 0x09
	BolusInProgress    PumpError = 0x0C
	PageDoesNotExist   PumpError = 0x0D
)

func (e PumpError) String() string {
	switch e {
	case CommandRefused:
		return "command refused"
	case MaxSettingExceeded:
		return "max setting exceeded"
	case BolusInProgress:
		return "bolus in progress"
	case PageDoesNotExist:
		return "page does not exist"
	default:
		return fmt.Sprintf("pump error 0x%02x", byte(e))
	}
}

// NackCode extracts the pump error from a Nack CommandError.
func NackCode(err error) (PumpError, bool) {
	var ce *ble.CommandError
	if errors.As(err, &ce) && ce.Kind == ble.Nack {
		return PumpError(ce.NackCode), true
	}
	return 0, false
}

// historyTimeout covers a full page at the bridge's notification rate.
const historyTimeout = 10 * time.Second

func command(name string, opcode byte, payload []byte, expected int, timeout time.Duration) ble.Command {
	return ble.Command{
		Name:                   name,
		Service:                ServiceUUID,
		Characteristic:         WriteUUID,
		ResponseCharacteristic: NotifyUUID,
		Value:                  Encode(opcode, payload),
		ExpectedLength:         expected,
		Complete: func(buf []byte) bool {
			f, err := Decode(buf)
			return err == nil && f.Type == TypeResponse && f.Opcode == opcode
		},
		Nack:    Nack,
		Timeout: timeout,
	}
}

// ReadHistoryPage asks for history page n, 0 being the newest.
func ReadHistoryPage(n int) ble.Command {
	return command(fmt.Sprintf("read-history-page-%d", n), OpReadHistoryPage, []byte{byte(n)},
		overhead+2+pumpevent.PageSize, historyTimeout)
}

// ReadModel asks for the pump model number.
func ReadModel() ble.Command {
	return command("read-model", OpReadModel, nil, 0, 0)
}

// ParseHistoryPage extracts the raw page from a ReadHistoryPage reply.
func ParseHistoryPage(resp []byte) ([]byte, error) {
	f, err := Decode(resp)
	if err != nil {
		return nil, err
	}
	if len(f.Payload) != pumpevent.PageSize {
		return nil, fmt.Errorf("history page: %w", pumpevent.ErrPageLength)
	}
	return f.Payload, nil
}

// ParseModel reads the model number reply: a length byte then ASCII digits.
func ParseModel(resp []byte) (pumpevent.Model, error) {
	f, err := Decode(resp)
	if err != nil {
		return pumpevent.Model{}, err
	}
	if len(f.Payload) == 0 || int(f.Payload[0]) > len(f.Payload)-1 {
		return pumpevent.Model{}, fmt.Errorf("model reply: %w", ErrBadLength)
	}
	return pumpevent.ParseModel(string(f.Payload[1 : 1+int(f.Payload[0])]))
}
