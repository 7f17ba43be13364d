package ir

// ImageSize is the bitmap size of a control, reported to hosts so that
// advanced feedbacks can render images at the right resolution.
type ImageSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ActionPayload is what a host receives to (re)subscribe an action.
// Options are fully resolved: variable references replaced by their values.
type ActionPayload struct {
	ID           string   `json:"id"`
	ControlID    string   `json:"control_id"`
	DefinitionID string   `json:"definition_id"`
	Options      IRObject `json:"options"`
	UpgradeIndex *int     `json:"upgrade_index,omitempty"`
}

// FeedbackPayload is what a host receives to (re)subscribe a feedback.
type FeedbackPayload struct {
	ID           string     `json:"id"`
	ControlID    string     `json:"control_id"`
	DefinitionID string     `json:"definition_id"`
	Options      IRObject   `json:"options"`
	IsInverted   bool       `json:"is_inverted"`
	UpgradeIndex *int       `json:"upgrade_index,omitempty"`
	Image        *ImageSize `json:"image,omitempty"`
}

// ActionUpdate is one entry in an update-actions batch.
// A nil Payload is a deletion marker: the host drops its subscription.
type ActionUpdate struct {
	ID      string         `json:"id"`
	Payload *ActionPayload `json:"payload"`
}

// FeedbackUpdate is one entry in an update-feedbacks batch.
// A nil Payload is a deletion marker.
type FeedbackUpdate struct {
	ID      string           `json:"id"`
	Payload *FeedbackPayload `json:"payload"`
}

// IsDelete reports whether the entry is a deletion marker.
func (u ActionUpdate) IsDelete() bool { return u.Payload == nil }

// IsDelete reports whether the entry is a deletion marker.
func (u FeedbackUpdate) IsDelete() bool { return u.Payload == nil }

// Fingerprint hashes the payload, or returns "" for a deletion marker.
func (p *ActionPayload) Fingerprint() string {
	if p == nil {
		return ""
	}
	obj := IRObject{
		"id":            IRString(p.ID),
		"control_id":    IRString(p.ControlID),
		"definition_id": IRString(p.DefinitionID),
		"options":       nonNil(p.Options),
	}
	fp, err := Fingerprint(DomainActionPayload, obj)
	if err != nil {
		return "invalid"
	}
	return fp
}

// Fingerprint hashes the payload, or returns "" for a deletion marker.
func (p *FeedbackPayload) Fingerprint() string {
	if p == nil {
		return ""
	}
	obj := IRObject{
		"id":            IRString(p.ID),
		"control_id":    IRString(p.ControlID),
		"definition_id": IRString(p.DefinitionID),
		"options":       nonNil(p.Options),
		"is_inverted":   IRBool(p.IsInverted),
	}
	if p.Image != nil {
		obj["image"] = IRObject{"width": IRInt(p.Image.Width), "height": IRInt(p.Image.Height)}
	}
	fp, err := Fingerprint(DomainFeedbackPayload, obj)
	if err != nil {
		return "invalid"
	}
	return fp
}

func nonNil(obj IRObject) IRObject {
	if obj == nil {
		return IRObject{}
	}
	return obj
}
