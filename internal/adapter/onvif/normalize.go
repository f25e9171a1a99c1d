package onvif

import (
	"strconv"
	"strings"
)

// Topics of interest.
const (
	TopicMotion = "tns1:RuleEngine/CellMotionDetector/Motion"
	TopicPeople = "tns1:RuleEngine/PeopleDetector/People"
)

type valueKind int

const (
	valueBool valueKind = iota
	valueString
	valueInt
)

type topicRule struct {
	name      string
	valueName string
	kind      valueKind
}

// topicRules is the allow-list; everything else is ignored.
var topicRules = map[string]topicRule{
	TopicMotion: {name: "motion", valueName: "IsMotion", kind: valueBool},
	TopicPeople: {name: "person", valueName: "IsPeople", kind: valueBool},
}

// Detection is a notification normalized into a neutral shape.
type Detection struct {
	Name   string            // declared event name ("motion", "person")
	Topic  string            // original topic expression
	Value  any               // bool, string or int depending on the topic rule
	Source map[string]string // Source SimpleItems (video source, rule name)
}

// Active reports the "true" polarity. A cleared signal is not reportable.
func (d Detection) Active() bool {
	switch v := d.Value.(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(v, "true")
	case int:
		return v != 0
	default:
		return false
	}
}

// Normalize maps a message on an allow-listed topic onto a Detection.
// The second result is false for unrecognized topics and for messages that
// do not carry the declared value item.
func Normalize(msg NotificationMessage) (Detection, bool) {
	topic := msg.TopicName()
	rule, ok := topicRules[topic]
	if !ok {
		return Detection{}, false
	}

	raw, ok := msg.DataItem(rule.valueName)
	if !ok {
		return Detection{}, false
	}

	d := Detection{
		Name:   rule.name,
		Topic:  topic,
		Source: msg.SourceItems(),
	}

	switch rule.kind {
	case valueBool:
		d.Value = strings.EqualFold(strings.TrimSpace(raw), "true")
	case valueInt:
		if n, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil {
			d.Value = n
		} else {
			d.Value = raw
		}
	default:
		d.Value = raw
	}
	return d, true
}
