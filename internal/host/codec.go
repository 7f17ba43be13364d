package host

import (
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"

	"github.com/roach88/entsync/internal/ir"
)

// Wire method names.
const (
	MethodUpdateActions    = "update_actions"
	MethodUpdateFeedbacks  = "update_feedbacks"
	MethodUpgradeActions   = "upgrade_actions"
	MethodUpgradeFeedbacks = "upgrade_feedbacks"
)

// encMode uses Core Deterministic Encoding (RFC 8949 §4.2): the same
// request always produces the same bytes.
var encMode cbor.EncMode

// decMode decodes any-typed maps as map[string]any so option values can
// be converted with ir.FromAny. Unknown fields are ignored.
var decMode cbor.DecMode

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encOptions.TextMarshaler = cbor.TextMarshalerTextString
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("host: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType:  reflect.TypeOf(map[string]any(nil)),
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
	}.DecMode()
	if err != nil {
		panic("host: CBOR decoder initialization failed: " + err.Error())
	}
}

func marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

func unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

type wireImage struct {
	Width  int `cbor:"width"`
	Height int `cbor:"height"`
}

type wireActionPayload struct {
	ControlID    string         `cbor:"control_id"`
	DefinitionID string         `cbor:"definition_id"`
	Options      map[string]any `cbor:"options"`
	UpgradeIndex *int           `cbor:"upgrade_index,omitempty"`
}

type wireFeedbackPayload struct {
	ControlID    string         `cbor:"control_id"`
	DefinitionID string         `cbor:"definition_id"`
	Options      map[string]any `cbor:"options"`
	IsInverted   bool           `cbor:"is_inverted,omitempty"`
	UpgradeIndex *int           `cbor:"upgrade_index,omitempty"`
	Image        *wireImage     `cbor:"image,omitempty"`
}

// wireActionUpdate with a nil Payload is a deletion marker.
type wireActionUpdate struct {
	ID      string             `cbor:"id"`
	Payload *wireActionPayload `cbor:"payload"`
}

type wireFeedbackUpdate struct {
	ID      string               `cbor:"id"`
	Payload *wireFeedbackPayload `cbor:"payload"`
}

type wireEntity struct {
	ID           string         `cbor:"id"`
	Kind         ir.EntityKind  `cbor:"kind"`
	ConnectionID string         `cbor:"connection_id,omitempty"`
	DefinitionID string         `cbor:"definition_id"`
	Options      map[string]any `cbor:"options"`
	UpgradeIndex *int           `cbor:"upgrade_index,omitempty"`
	IsInverted   bool           `cbor:"is_inverted,omitempty"`
	Style        map[string]any `cbor:"style,omitempty"`
}

type updateActionsRequest struct {
	Updates []wireActionUpdate `cbor:"updates"`
}

type updateFeedbacksRequest struct {
	Updates []wireFeedbackUpdate `cbor:"updates"`
}

type upgradeRequest struct {
	Entities            []wireEntity `cbor:"entities"`
	CurrentUpgradeIndex int          `cbor:"current_upgrade_index"`
}

type upgradeResponse struct {
	Entities []wireEntity `cbor:"entities"`
}

type emptyResponse struct{}

func optionsToWire(obj ir.IRObject) map[string]any {
	if obj == nil {
		return map[string]any{}
	}
	return ir.ToAny(obj).(map[string]any)
}

func optionsFromWire(m map[string]any) (ir.IRObject, error) {
	return ir.ObjectFromMap(m)
}

func actionUpdatesToWire(batch []ir.ActionUpdate) []wireActionUpdate {
	out := make([]wireActionUpdate, len(batch))
	for i, u := range batch {
		out[i].ID = u.ID
		if p := u.Payload; p != nil {
			out[i].Payload = &wireActionPayload{
				ControlID:    p.ControlID,
				DefinitionID: p.DefinitionID,
				Options:      optionsToWire(p.Options),
				UpgradeIndex: p.UpgradeIndex,
			}
		}
	}
	return out
}

func actionUpdatesFromWire(batch []wireActionUpdate) ([]ir.ActionUpdate, error) {
	out := make([]ir.ActionUpdate, len(batch))
	for i, u := range batch {
		out[i].ID = u.ID
		if p := u.Payload; p != nil {
			opts, err := optionsFromWire(p.Options)
			if err != nil {
				return nil, fmt.Errorf("action %s options: %w", u.ID, err)
			}
			out[i].Payload = &ir.ActionPayload{
				ID:           u.ID,
				ControlID:    p.ControlID,
				DefinitionID: p.DefinitionID,
				Options:      opts,
				UpgradeIndex: p.UpgradeIndex,
			}
		}
	}
	return out, nil
}

func feedbackUpdatesToWire(batch []ir.FeedbackUpdate) []wireFeedbackUpdate {
	out := make([]wireFeedbackUpdate, len(batch))
	for i, u := range batch {
		out[i].ID = u.ID
		if p := u.Payload; p != nil {
			wp := &wireFeedbackPayload{
				ControlID:    p.ControlID,
				DefinitionID: p.DefinitionID,
				Options:      optionsToWire(p.Options),
				IsInverted:   p.IsInverted,
				UpgradeIndex: p.UpgradeIndex,
			}
			if p.Image != nil {
				wp.Image = &wireImage{Width: p.Image.Width, Height: p.Image.Height}
			}
			out[i].Payload = wp
		}
	}
	return out
}

func feedbackUpdatesFromWire(batch []wireFeedbackUpdate) ([]ir.FeedbackUpdate, error) {
	out := make([]ir.FeedbackUpdate, len(batch))
	for i, u := range batch {
		out[i].ID = u.ID
		if p := u.Payload; p != nil {
			opts, err := optionsFromWire(p.Options)
			if err != nil {
				return nil, fmt.Errorf("feedback %s options: %w", u.ID, err)
			}
			payload := &ir.FeedbackPayload{
				ID:           u.ID,
				ControlID:    p.ControlID,
				DefinitionID: p.DefinitionID,
				Options:      opts,
				IsInverted:   p.IsInverted,
				UpgradeIndex: p.UpgradeIndex,
			}
			if p.Image != nil {
				payload.Image = &ir.ImageSize{Width: p.Image.Width, Height: p.Image.Height}
			}
			out[i].Payload = payload
		}
	}
	return out, nil
}

func entitiesToWire(batch []ir.Entity) []wireEntity {
	out := make([]wireEntity, len(batch))
	for i, e := range batch {
		out[i] = wireEntity{
			ID:           e.ID,
			Kind:         e.Kind,
			ConnectionID: e.ConnectionID,
			DefinitionID: e.DefinitionID,
			Options:      optionsToWire(e.Options),
			UpgradeIndex: e.UpgradeIndex,
			IsInverted:   e.IsInverted,
		}
		if e.Style != nil {
			out[i].Style = optionsToWire(e.Style)
		}
	}
	return out
}

func entitiesFromWire(batch []wireEntity) ([]ir.Entity, error) {
	out := make([]ir.Entity, len(batch))
	for i, w := range batch {
		opts, err := optionsFromWire(w.Options)
		if err != nil {
			return nil, fmt.Errorf("entity %s options: %w", w.ID, err)
		}
		e := ir.Entity{
			ID:           w.ID,
			Kind:         w.Kind,
			ConnectionID: w.ConnectionID,
			DefinitionID: w.DefinitionID,
			Options:      opts,
			UpgradeIndex: w.UpgradeIndex,
			IsInverted:   w.IsInverted,
		}
		if w.Style != nil {
			if e.Style, err = optionsFromWire(w.Style); err != nil {
				return nil, fmt.Errorf("entity %s style: %w", w.ID, err)
			}
		}
		out[i] = e
	}
	return out, nil
}
