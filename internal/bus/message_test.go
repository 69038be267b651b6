package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	msg := Message{
		Metadata: Metadata{
			MessageID: "abc-123", From: "Research", To: "Risk",
			Timestamp: time.Date(2026, 1, 15, 9, 30, 0, 0, time.UTC),
			MessageType: string(TypeBuyOrder), Priority: string(PriorityHigh),
			RequiresResponse: true,
		},
		Subject: "Buy candidates for review",
		Body:    "Three tickers surfaced this cycle.",
		Payload: []byte(`{"tickers":["AAPL","MSFT"]}`),
	}

	encoded, err := Encode(msg)
	require.NoError(t, err)

	decoded, err := Decode(encoded)
	require.NoError(t, err)

	assert.Equal(t, msg.Metadata.MessageID, decoded.Metadata.MessageID)
	assert.Equal(t, msg.Metadata.From, decoded.Metadata.From)
	assert.Equal(t, msg.Metadata.To, decoded.Metadata.To)
	assert.Equal(t, msg.Subject, decoded.Subject)
	assert.Equal(t, msg.Body, decoded.Body)
	assert.JSONEq(t, string(msg.Payload), string(decoded.Payload))
}

func TestDecodeMissingFrontMatterIsSchemaError(t *testing.T) {
	_, err := Decode([]byte("# Just a heading\n\nNo front matter here."))
	assert.Error(t, err)
}

func TestDecodeMultipleJSONFencesIsSchemaError(t *testing.T) {
	raw := "---\nmessage_id: a\nfrom: X\nto: Y\n---\n\n# Subject\n\nBody\n\n```json\n{}\n```\n\n```json\n{}\n```\n"
	_, err := Decode([]byte(raw))
	assert.Error(t, err)
}

func TestValidatePriority(t *testing.T) {
	assert.True(t, ValidatePriority("routine"))
	assert.True(t, ValidatePriority("critical"))
	assert.False(t, ValidatePriority("urgentish"))
}
