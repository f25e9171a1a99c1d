package wsmarshaller

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/kimiroo/ice-server/internal/domain/event"
	"github.com/kimiroo/ice-server/internal/domain/model"
)

// MarshallBroadcast encodes a fanned-out event.
// It leverages the event cache so the encoding happens once per event,
// however many connections receive it.
func MarshallBroadcast(ev *event.Event) ([]byte, error) {
	// Return cached frame if already computed.
	if cached, ok := ev.GetCached().([]byte); ok {
		return cached, nil
	}

	data, err := json.Marshal(frameFor(ev))
	if err != nil {
		return nil, fmt.Errorf("marshal broadcast %s: %w", ev.ID(), err)
	}

	// STORE: Save for the remaining connections.
	ev.SetCached(data)
	return data, nil
}

// frameFor picks the outbound frame by event type.
func frameFor(ev *event.Event) Outbound {
	switch ev.Type() {
	case event.TypeClient:
		data := ev.Data()
		return Outbound{Type: TypeClientEvent, Data: ClientEvent{
			Event: ev.Name(),
			Client: model.ClientEventPayload{
				ClientName: stringOf(data["clientName"]),
				ClientType: stringOf(data["clientType"]),
				Handle:     stringOf(data["sid"]),
			},
		}}
	case event.TypeIgnored:
		data := ev.Data()
		return Outbound{Type: TypeEventIgnored, Data: EventIgnored{
			Event:  data["event"],
			Reason: stringOf(data["reason"]),
		}}
	case event.TypeSystem:
		armed, _ := ev.Data()["isArmed"].(bool)
		return Outbound{Type: TypeStatus, Data: model.ArmStatusPayload{IsArmed: armed}}
	default:
		return Outbound{Type: TypeEvent, Data: ev.View()}
	}
}

// Marshall encodes a reply frame.
func Marshall(typ string, data any) ([]byte, error) {
	out, err := json.Marshal(Outbound{Type: typ, Data: data})
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", typ, err)
	}
	return out, nil
}

// Unmarshall decodes a client frame. The payload stays raw until DecodeData.
func Unmarshall(raw []byte) (Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		return Inbound{}, &model.ValidationError{Field: "message", Reason: "malformed frame"}
	}
	if in.Type == "" {
		return Inbound{}, &model.ValidationError{Field: "type", Reason: "is required"}
	}
	return in, nil
}

// DecodeData decodes the payload into out. An absent payload leaves out untouched.
func DecodeData(in Inbound, out any) error {
	if len(in.Data) == 0 || string(in.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(in.Data, out); err != nil {
		return &model.ValidationError{Field: "data", Reason: "malformed " + in.Type + " payload"}
	}
	return nil
}

func stringOf(v any) string {
	s, _ := v.(string)
	return s
}
