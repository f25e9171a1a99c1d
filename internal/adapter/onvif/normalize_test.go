package onvif

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func message(topic string, data ...SimpleItem) NotificationMessage {
	var m NotificationMessage
	m.Topic.Value = topic
	m.Message.Message.Data = data
	m.Message.Message.Source = []SimpleItem{{Name: "VideoSourceConfigurationToken", Value: "VideoSource_1"}}
	return m
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name       string
		msg        NotificationMessage
		wantOK     bool
		wantName   string
		wantActive bool
	}{
		{
			name:       "motion on",
			msg:        message(TopicMotion, SimpleItem{Name: "IsMotion", Value: "true"}),
			wantOK:     true,
			wantName:   "motion",
			wantActive: true,
		},
		{
			name:     "motion cleared",
			msg:      message(TopicMotion, SimpleItem{Name: "IsMotion", Value: "false"}),
			wantOK:   true,
			wantName: "motion",
		},
		{
			name:       "person with trailing slash and padding",
			msg:        message("  "+TopicPeople+"/ ", SimpleItem{Name: "IsPeople", Value: " TRUE "}),
			wantOK:     true,
			wantName:   "person",
			wantActive: true,
		},
		{
			name: "topic not allowed",
			msg:  message("tns1:VideoSource/ImageTooDark", SimpleItem{Name: "State", Value: "true"}),
		},
		{
			name: "declared value missing",
			msg:  message(TopicMotion, SimpleItem{Name: "State", Value: "true"}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, ok := Normalize(tt.msg)
			require.Equal(t, tt.wantOK, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.wantName, d.Name)
			assert.Equal(t, tt.wantActive, d.Active())
			assert.Equal(t, "VideoSource_1", d.Source["VideoSourceConfigurationToken"])
		})
	}
}

func TestDetectionActive(t *testing.T) {
	assert.True(t, Detection{Value: true}.Active())
	assert.True(t, Detection{Value: "True"}.Active())
	assert.True(t, Detection{Value: 2}.Active())
	assert.False(t, Detection{Value: 0}.Active())
	assert.False(t, Detection{}.Active())
}
