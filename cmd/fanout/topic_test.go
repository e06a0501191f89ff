package main

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopicFromChannel(t *testing.T) {
	cases := []struct {
		channel string
		want    Topic
		ok      bool
	}{
		{"vault:events:holder:holder-42", Topic{Kind: KindHolder, ID: "holder-42"}, true},
		{"vault:events:vault:3f1c0a9e", Topic{Kind: KindVault, ID: "3f1c0a9e"}, true},
		{"vault:events:holder:", Topic{}, false},
		{"vault:events:stream:holder-42", Topic{}, false},
		{"vault:events:holder-42", Topic{}, false},
		{"other:events:holder:holder-42", Topic{}, false},
	}

	for _, tc := range cases {
		topic, ok := topicFromChannel(tc.channel)
		assert.Equal(t, tc.ok, ok, tc.channel)
		assert.Equal(t, tc.want, topic, tc.channel)
	}
}

func TestTopicFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws?holder=holder-42", nil)
	topic, err := topicFromRequest(r)
	require.NoError(t, err)
	assert.Equal(t, Topic{Kind: KindHolder, ID: "holder-42"}, topic)

	r = httptest.NewRequest("GET", "/ws?vault=3f1c0a9e", nil)
	topic, err = topicFromRequest(r)
	require.NoError(t, err)
	assert.Equal(t, Topic{Kind: KindVault, ID: "3f1c0a9e"}, topic)

	r = httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("X-Holder-ID", "holder-7")
	topic, err = topicFromRequest(r)
	require.NoError(t, err)
	assert.Equal(t, Topic{Kind: KindHolder, ID: "holder-7"}, topic)

	r = httptest.NewRequest("GET", "/ws", nil)
	_, err = topicFromRequest(r)
	assert.Error(t, err)
}
