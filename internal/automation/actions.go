package automation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Trigger names an event a lead's activity can raise.
const (
	TriggerNewLead         = "new_lead"
	TriggerInactivity      = "inactivity"
	TriggerLeadScoreChange = "lead_score_change"
	TriggerFormSubmit      = "form_submit"
	TriggerCampaignClick   = "campaign_click"
)

var knownTriggers = map[string]bool{
	TriggerNewLead:         true,
	TriggerInactivity:      true,
	TriggerLeadScoreChange: true,
	TriggerFormSubmit:      true,
	TriggerCampaignClick:   true,
}

// ValidTrigger reports whether name is a recognised trigger.
func ValidTrigger(name string) bool {
	return knownTriggers[name]
}

// Action types
const (
	ActionSendEmail = "send_email"
	ActionWait      = "wait"
)

// Delay units
const (
	UnitMinutes = "minutes"
	UnitHours   = "hours"
	UnitDays    = "days"
)

var ErrInvalidActions = errors.New("invalid automation actions")

// MaxDelayDays bounds how far ahead an email can be scheduled.
const MaxDelayDays = 36500

// Action is one step of an automation. Both stored encodings are
// normalized into this shape by ParseActions.
type Action struct {
	Type    string `json:"type" validate:"required"`
	EmailID uint   `json:"emailId,omitempty" validate:"required_if=Type send_email"`
	Delay   int    `json:"delay,omitempty" validate:"min=0"`
	Unit    string `json:"unit,omitempty" validate:"omitempty,oneof=minutes hours days"`
}

// DelayDays returns the delay rounded up to whole days. Sub-day waits are
// not honoured precisely: 1 hour and 23 hours both become 1 day.
func (a Action) DelayDays() int {
	if a.Delay <= 0 {
		return 0
	}
	switch a.Unit {
	case UnitHours:
		return (a.Delay + 23) / 24
	case UnitMinutes:
		return (a.Delay + 1439) / 1440
	default:
		return a.Delay
	}
}

var validate = validator.New()

// flexInt accepts a JSON integer, an integer string, null or "".
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = 0
		return nil
	}
	s := string(b)
	if b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*f = 0
			return nil
		}
	}
	n, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return fmt.Errorf("not an integer: %s", b)
	}
	*f = flexInt(n)
	return nil
}

type rawAction struct {
	Type    string  `json:"type"`
	EmailID flexInt `json:"emailId"`
	Delay   flexInt `json:"delay"`
	Unit    string  `json:"unit"`
}

type rawWrapper struct {
	Emails []struct {
		EmailID flexInt `json:"emailId"`
		Delay   flexInt `json:"delay"`
	} `json:"emails"`
}

// ParseActions decodes the stored actions text. It accepts a flat array of
// actions or the older {"emails":[{emailId, delay}]} wrapper whose delays
// are in days. A JSON string wrapping either form is unwrapped once.
func ParseActions(raw string) ([]Action, error) {
	return parseActions([]byte(strings.TrimSpace(raw)), true)
}

func parseActions(b []byte, unwrap bool) ([]Action, error) {
	if len(b) == 0 || string(b) == "null" {
		return nil, nil
	}

	var actions []Action
	switch b[0] {
	case '[':
		var raws []rawAction
		if err := json.Unmarshal(b, &raws); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidActions, err)
		}
		for _, r := range raws {
			if r.EmailID < 0 {
				return nil, fmt.Errorf("%w: negative emailId", ErrInvalidActions)
			}
			actions = append(actions, Action{
				Type:    strings.TrimSpace(r.Type),
				EmailID: uint(r.EmailID),
				Delay:   int(r.Delay),
				Unit:    strings.ToLower(strings.TrimSpace(r.Unit)),
			})
		}
	case '{':
		var w rawWrapper
		if err := json.Unmarshal(b, &w); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidActions, err)
		}
		for _, e := range w.Emails {
			if e.EmailID < 0 {
				return nil, fmt.Errorf("%w: negative emailId", ErrInvalidActions)
			}
			actions = append(actions, Action{
				Type:    ActionSendEmail,
				EmailID: uint(e.EmailID),
				Delay:   int(e.Delay),
				Unit:    UnitDays,
			})
		}
	case '"':
		var inner string
		if !unwrap {
			return nil, fmt.Errorf("%w: nested string encoding", ErrInvalidActions)
		}
		if err := json.Unmarshal(b, &inner); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidActions, err)
		}
		return parseActions([]byte(strings.TrimSpace(inner)), false)
	default:
		return nil, fmt.Errorf("%w: unexpected %q", ErrInvalidActions, b[0])
	}

	for i, a := range actions {
		if err := validate.Struct(a); err != nil {
			return nil, fmt.Errorf("%w: action %d: %v", ErrInvalidActions, i, err)
		}
		if a.DelayDays() > MaxDelayDays {
			return nil, fmt.Errorf("%w: action %d: delay exceeds %d days", ErrInvalidActions, i, MaxDelayDays)
		}
	}
	return actions, nil
}
