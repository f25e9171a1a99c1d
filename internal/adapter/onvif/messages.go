package onvif

import (
	"encoding/xml"
	"strconv"
	"strings"
	"time"
)

// SimpleItem is a Name/Value pair inside a notification Source or Data block.
type SimpleItem struct {
	Name  string `xml:"Name,attr"`
	Value string `xml:"Value,attr"`
}

// NotificationMessage is one wsnt:NotificationMessage of a PullMessages response.
type NotificationMessage struct {
	Topic   Topic `xml:"Topic"`
	Message struct {
		Message struct {
			UtcTime           string       `xml:"UtcTime,attr"`
			PropertyOperation string       `xml:"PropertyOperation,attr"`
			Source            []SimpleItem `xml:"Source>SimpleItem"`
			Data              []SimpleItem `xml:"Data>SimpleItem"`
		} `xml:"Message"`
	} `xml:"Message"`
}

type Topic struct {
	Dialect string `xml:"Dialect,attr"`
	Value   string `xml:",chardata"`
}

// TopicName returns the trimmed topic expression.
func (m NotificationMessage) TopicName() string {
	return strings.TrimRight(strings.TrimSpace(m.Topic.Value), "/.")
}

// DataItem looks up a Data SimpleItem by name.
func (m NotificationMessage) DataItem(name string) (string, bool) {
	for _, it := range m.Message.Message.Data {
		if it.Name == name {
			return it.Value, true
		}
	}
	return "", false
}

// SourceItems flattens the Source block.
func (m NotificationMessage) SourceItems() map[string]string {
	out := make(map[string]string, len(m.Message.Message.Source))
	for _, it := range m.Message.Message.Source {
		out[it.Name] = it.Value
	}
	return out
}

// envelope is the response side of every SOAP exchange.
type envelope struct {
	XMLName xml.Name `xml:"Envelope"`
	Body    struct {
		Fault   *soapFault `xml:"Fault"`
		Content []byte     `xml:",innerxml"`
	} `xml:"Body"`
}

type soapFault struct {
	Code struct {
		Value   string `xml:"Value"`
		Subcode struct {
			Value string `xml:"Value"`
		} `xml:"Subcode"`
	} `xml:"Code"`
	Reason struct {
		Text string `xml:"Text"`
	} `xml:"Reason"`
}

func (f *soapFault) toFault() *Fault {
	return &Fault{
		Code:    strings.TrimSpace(f.Code.Value),
		Subcode: strings.TrimSpace(f.Code.Subcode.Value),
		Reason:  strings.TrimSpace(f.Reason.Text),
	}
}

type getCapabilitiesResponse struct {
	XMLName      xml.Name `xml:"GetCapabilitiesResponse"`
	Capabilities struct {
		Events struct {
			XAddr string `xml:"XAddr"`
		} `xml:"Events"`
	} `xml:"Capabilities"`
}

type createPullPointSubscriptionResponse struct {
	XMLName               xml.Name `xml:"CreatePullPointSubscriptionResponse"`
	SubscriptionReference struct {
		Address string `xml:"Address"`
	} `xml:"SubscriptionReference"`
	CurrentTime     string `xml:"CurrentTime"`
	TerminationTime string `xml:"TerminationTime"`
}

type pullMessagesResponse struct {
	XMLName             xml.Name              `xml:"PullMessagesResponse"`
	CurrentTime         string                `xml:"CurrentTime"`
	TerminationTime     string                `xml:"TerminationTime"`
	NotificationMessage []NotificationMessage `xml:"NotificationMessage"`
}

type renewResponse struct {
	XMLName         xml.Name `xml:"RenewResponse"`
	TerminationTime string   `xml:"TerminationTime"`
	CurrentTime     string   `xml:"CurrentTime"`
}

// isoDuration renders d as an xs:duration (PT600S, PT0.5S).
func isoDuration(d time.Duration) string {
	return "PT" + strconv.FormatFloat(d.Seconds(), 'f', -1, 64) + "S"
}

// parseTime accepts the xs:dateTime layouts cameras commonly emit.
func parseTime(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
